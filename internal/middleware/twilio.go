package middleware

import (
	"net/http"

	"github.com/twilio/twilio-go/client"
)

// TwilioSignatureHeader carries the provider's request signature.
const TwilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignature rejects webhook requests whose signature does not match the
// auth token. baseURL is the public scheme and host the provider calls, since
// the URL seen behind a proxy differs from the signed one.
func TwilioSignature(authToken, baseURL string) func(http.Handler) http.Handler {
	validator := client.NewRequestValidator(authToken)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signature := r.Header.Get(TwilioSignatureHeader)
			if signature == "" {
				http.Error(w, `{"error":"missing signature"}`, http.StatusForbidden)
				return
			}

			if err := r.ParseForm(); err != nil {
				http.Error(w, `{"error":"invalid form body"}`, http.StatusBadRequest)
				return
			}

			params := make(map[string]string, len(r.PostForm))
			for k, v := range r.PostForm {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}

			if !validator.Validate(baseURL+r.URL.RequestURI(), params, signature) {
				http.Error(w, `{"error":"invalid signature"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
