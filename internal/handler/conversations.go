// Package handler provides HTTP handlers for the webhook server.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/whatsapp-assistant/internal/middleware"
	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
	"github.com/capitalize-ai/whatsapp-assistant/internal/store"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
)

// ConversationHandler serves stored transcripts to operators.
type ConversationHandler struct {
	store   store.Store
	timeout time.Duration
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(st store.Store, timeout time.Duration, log *logger.Logger) *ConversationHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ConversationHandler{
		store:   st,
		timeout: timeout,
		logger:  log,
	}
}

// Get handles GET /api/v1/conversations/{key}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := middleware.ValidateConversationKey(key); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	conv, err := h.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.WithContext(middleware.GetCorrelationID(r.Context()), key).Error("failed to get conversation",
			zap.String("subject", middleware.GetSubject(r.Context())),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}

	respond(w, http.StatusOK, model.NewConversationResponse(conv))
}
