package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/whatsapp-assistant/internal/middleware"
	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
	"github.com/capitalize-ai/whatsapp-assistant/internal/session"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
)

// InboundHandler is implemented by session.Manager.
type InboundHandler interface {
	HandleInbound(ctx context.Context, rawSender, text string) (*session.Result, error)
}

// WebhookHandler handles the messaging provider's webhook.
type WebhookHandler struct {
	sessions InboundHandler
	logger   *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(sessions InboundHandler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		sessions: sessions,
		logger:   log,
	}
}

// WhatsApp handles POST /api/v1/whatsapp-endpoint
func (h *WebhookHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With(zap.String("correlation_id", middleware.GetCorrelationID(r.Context())))

	if err := r.ParseForm(); err != nil {
		writeWebhook(w, http.StatusBadRequest, model.StatusError, false, "invalid form body")
		return
	}

	in := model.InboundMessage{
		From: r.PostFormValue("From"),
		Body: r.PostFormValue("Body"),
	}
	if err := middleware.ValidateInbound(in.From, in.Body); err != nil {
		writeWebhook(w, http.StatusBadRequest, model.StatusError, false, err.Error())
		return
	}

	// A dropped provider connection must not abandon a half-written turn; the
	// session manager bounds every call with its own timeout.
	ctx := context.WithoutCancel(r.Context())

	res, err := h.sessions.HandleInbound(ctx, in.From, in.Body)
	switch {
	case errors.Is(err, session.ErrInvalidRequest):
		writeWebhook(w, http.StatusBadRequest, model.StatusError, false, "invalid request")
		return
	case err != nil:
		log.Error("failed to handle inbound message", zap.Error(err))
		writeWebhook(w, http.StatusInternalServerError, model.StatusError, false, "Internal server error")
		return
	}

	writeWebhook(w, http.StatusOK, model.StatusSuccess, res.IsNewSender, res.Detail)
}

func writeWebhook(w http.ResponseWriter, status int, outcome string, isNewSender bool, detail string) {
	respond(w, status, model.WebhookResponse{
		Status:      outcome,
		IsNewSender: isNewSender,
		Detail:      detail,
	})
}
