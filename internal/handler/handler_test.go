package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/whatsapp-assistant/internal/model"
	"github.com/capitalize-ai/whatsapp-assistant/internal/session"
	"github.com/capitalize-ai/whatsapp-assistant/internal/store"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
)

type fakeSessions struct {
	result *session.Result
	err    error
	calls  int
	ctxErr error
}

func (f *fakeSessions) HandleInbound(ctx context.Context, rawSender, text string) (*session.Result, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	return f.result, f.err
}

func postForm(h http.HandlerFunc, form url.Values) (*httptest.ResponseRecorder, model.WebhookResponse) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/whatsapp-endpoint", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)

	var body model.WebhookResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestWebhook_Success(t *testing.T) {
	sessions := &fakeSessions{result: &session.Result{IsNewSender: true, Detail: session.DetailWelcome}}
	h := NewWebhookHandler(sessions, logger.NewNop())

	rec, body := postForm(h.WhatsApp, url.Values{"From": {"whatsapp:+5215512345678"}, "Body": {"Hola"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusSuccess, body.Status)
	assert.True(t, body.IsNewSender)
	assert.Equal(t, session.DetailWelcome, body.Detail)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestWebhook_MissingFieldsNeverReachSessions(t *testing.T) {
	for _, form := range []url.Values{
		{"Body": {"Hola"}},
		{"From": {"whatsapp:+5215512345678"}},
		{"From": {"whatsapp:+"}, "Body": {"Hola"}},
	} {
		sessions := &fakeSessions{}
		h := NewWebhookHandler(sessions, logger.NewNop())

		rec, body := postForm(h.WhatsApp, form)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "form %v", form)
		assert.Equal(t, model.StatusError, body.Status)
		assert.Zero(t, sessions.calls)
	}
}

func TestWebhook_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty", session.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: db down", session.ErrStoreUnavailable), http.StatusInternalServerError},
		{fmt.Errorf("%w: timeout", session.ErrCompletionFailed), http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		h := NewWebhookHandler(&fakeSessions{err: tt.err}, logger.NewNop())
		rec, body := postForm(h.WhatsApp, url.Values{"From": {"whatsapp:+5215512345678"}, "Body": {"Hola"}})
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		assert.Equal(t, model.StatusError, body.Status)
		assert.NotContains(t, rec.Body.String(), "db down", "raw errors are never exposed")
	}
}

func TestWebhook_DetachesFromClientCancellation(t *testing.T) {
	sessions := &fakeSessions{result: &session.Result{Detail: session.DetailProcessed}}
	h := NewWebhookHandler(sessions, logger.NewNop())

	form := url.Values{"From": {"whatsapp:+5215512345678"}, "Body": {"Hola"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode())).WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.WhatsApp(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, sessions.ctxErr)
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func TestHealth(t *testing.T) {
	h := NewHealthHandler(store.NewMemoryStore(), nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "memory store pings and NATS is optional")
}

func TestReady_Failures(t *testing.T) {
	tests := []struct {
		name   string
		h      *HealthHandler
		reason string
	}{
		{"store down", &HealthHandler{store: fakePinger{err: errors.New("refused")}}, "conversation store unreachable"},
		{"nats down", &HealthHandler{store: fakePinger{}, events: fakeConn(false)}, "event stream disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.reason)
		})
	}

	rec := httptest.NewRecorder()
	(&HealthHandler{events: fakeConn(true)}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversation_Get(t *testing.T) {
	st := store.NewMemoryStore()
	conv := model.NewConversation("5215512345678", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	conv.Append(model.Message{Role: model.RoleAssistant, Content: "hola", Timestamp: conv.CreatedAt})
	require.NoError(t, st.Upsert(context.Background(), conv))

	r := chi.NewRouter()
	r.Get("/api/v1/conversations/{key}", NewConversationHandler(st, time.Second, logger.NewNop()).Get)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/v1/conversations/5215512345678")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "5215512345678", resp.Key)
	assert.Equal(t, 1, resp.MessageCount)
	assert.Equal(t, "hola", resp.Messages[0].Content)

	rec = get("/api/v1/conversations/5210000000000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"conversation not found","code":404}`, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, get("/api/v1/conversations/abc").Code)
}

func TestRespond_EncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	respond(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "response encoding failed")
}
