package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/capitalize-ai/whatsapp-assistant/pkg/logger"
	"github.com/capitalize-ai/whatsapp-assistant/pkg/metrics"
)

// CorrelationIDKey is the context key for the correlation id.
const CorrelationIDKey ContextKey = "correlation_id"

// CorrelationIDHeader carries the correlation id in both directions.
const CorrelationIDHeader = "X-Correlation-ID"

// Logging logs one line per request and records request metrics by route pattern.
// The correlation id is taken from the request header, then chi's request id,
// and generated otherwise; it is echoed back in the response.
func Logging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			correlationID := correlationIDFor(r)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set(CorrelationIDHeader, correlationID)

			r = r.WithContext(WithCorrelationID(r.Context(), correlationID))
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			if ce := log.Check(levelFor(status), "request completed"); ce != nil {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("route", routePattern(r)),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", elapsed),
					zap.String("correlation_id", correlationID),
					zap.String("remote_addr", r.RemoteAddr),
				)
			}

			metrics.RecordRequest(r.Method, routePattern(r), strconv.Itoa(status), elapsed.Seconds())
		})
	}
}

func correlationIDFor(r *http.Request) string {
	if id := r.Header.Get(CorrelationIDHeader); id != "" {
		return id
	}
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// routePattern keeps metric cardinality bounded: /api/v1/conversations/{key}
// rather than one series per sender.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// WithCorrelationID returns ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID returns the request's correlation id, or "".
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}
