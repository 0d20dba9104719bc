// Package middleware provides HTTP middleware for the webhook server.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

// PrincipalKey holds the authenticated *Principal.
const PrincipalKey ContextKey = "principal"

// ScopeConversationsRead grants read access to stored transcripts.
const ScopeConversationsRead = "conversations:read"

// Claims is the operator token payload. Tokens must carry an expiry.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope"`
}

// Principal is the caller identity extracted from a verified token.
type Principal struct {
	Subject string
	Scopes  []string
}

const tokenLeeway = 30 * time.Second

// Auth verifies an HMAC-signed bearer token and stores its Principal in the request context.
// An empty secret rejects every request.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	)
	key := []byte(jwtSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtSecret == "" {
				unauthorized(w, "authentication not configured")
				return
			}

			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			var claims Claims
			if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
				return key, nil
			}); err != nil {
				unauthorized(w, "invalid token")
				return
			}

			p := &Principal{Subject: claims.Subject, Scopes: claims.Scopes}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), PrincipalKey, p)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="conversations"`)
	http.Error(w, `{"error":"`+reason+`"}`, http.StatusUnauthorized)
}

// PrincipalFrom returns the authenticated caller, or nil outside Auth.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(PrincipalKey).(*Principal)
	return p
}

// GetSubject returns the token subject, or "" when unauthenticated.
func GetSubject(ctx context.Context) string {
	if p := PrincipalFrom(ctx); p != nil {
		return p.Subject
	}
	return ""
}

// GetScopes returns the token scopes.
func GetScopes(ctx context.Context) []string {
	if p := PrincipalFrom(ctx); p != nil {
		return p.Scopes
	}
	return nil
}

// HasScope reports whether the caller was granted scope.
func HasScope(ctx context.Context, scope string) bool {
	return slices.Contains(GetScopes(ctx), scope)
}

// RequireScope rejects callers lacking scope with 403. It must run after Auth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
