package auth

import (
	"net/http"
	"strings"
)

// Policy decides which paths skip session validation.
type Policy struct {
	ExemptPrefixes []string
}

// IsExempt reports whether a request bypasses auth.
func (p Policy) IsExempt(r *http.Request) bool {
	for _, prefix := range p.ExemptPrefixes {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// Middleware validates session tokens on dashboard requests. With an
// empty secret the middleware is a no-op, which keeps local
// development and the fake upstream usable without a login flow.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs a session middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap applies session validation to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || len(m.Secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := ParseToken(extractBearer(r), m.Secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := WithSession(r.Context(), Session{Subject: claims.Subject, Name: claims.Name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
