package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/capitalize-ai/whatsapp-assistant/internal/identity"
)

// RateLimit limits requests per client IP.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(limitExceeded(windowLength)),
	)
}

// SenderRateLimit limits webhook deliveries per conversation key. Every delivery
// arrives from the provider's addresses, so the normalized From field is the key
// and the IP is only a fallback for requests without a usable sender.
func SenderRateLimit(requestLimit int, windowLength time.Duration, n *identity.Normalizer) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(senderKey(n)),
		httprate.WithLimitHandler(limitExceeded(windowLength)),
	)
}

func senderKey(n *identity.Normalizer) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		if key, err := n.Parse(r.PostFormValue("From")); err == nil {
			return "sender:" + key.String(), nil
		}
		ip, err := httprate.KeyByIP(r)
		return "ip:" + ip, err
	}
}

func limitExceeded(window time.Duration) http.HandlerFunc {
	retry := int(math.Ceil(window.Seconds()))
	body := fmt.Sprintf(`{"error":"rate limit exceeded","retry_after":%d}`, retry)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(body))
	}
}
