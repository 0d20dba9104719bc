package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/whatsapp-assistant/internal/nats"
	"github.com/capitalize-ai/whatsapp-assistant/internal/store"
)

type connectivity interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store  store.Pinger
	events connectivity
}

// NewHealthHandler creates a new health handler. The store is probed when it
// supports pinging; natsClient is nil when the event stream is disabled.
func NewHealthHandler(st store.Store, natsClient *natsclient.Client) *HealthHandler {
	h := &HealthHandler{}
	if p, ok := st.(store.Pinger); ok {
		h.store = p
	}
	if natsClient != nil {
		h.events = natsClient
	}
	return h
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, probeStatus{Status: "healthy"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			respond(w, http.StatusServiceUnavailable, probeStatus{Status: "not ready", Reason: "conversation store unreachable"})
			return
		}
	}

	if h.events != nil && !h.events.IsConnected() {
		respond(w, http.StatusServiceUnavailable, probeStatus{Status: "not ready", Reason: "event stream disconnected"})
		return
	}

	respond(w, http.StatusOK, probeStatus{Status: "ready"})
}
