package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns a permissive CORS middleware. Webhook callers are servers, so no
// credentials are allowed cross-origin.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID", "X-Twilio-Signature"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	})
}
