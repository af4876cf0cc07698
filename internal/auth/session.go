package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthorized signals a missing or unusable session credential.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken signals a token that failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims are the session claims the dashboard issues at login.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Session is the resolved identity of a dashboard session. The sync
// engine treats it purely as a read dependency: it is established at
// session restore and torn down at logout, never mutated mid-flight.
type Session struct {
	Subject string
	Name    string
}

// ParseToken validates a session token and returns its claims.
func ParseToken(token string, secret []byte) (*Claims, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type sessionKey struct{}

// WithSession attaches a session to the context.
func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the session, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(Session)
	return session, ok
}

// SubjectFromContext returns the session subject or empty.
func SubjectFromContext(ctx context.Context) string {
	session, _ := SessionFromContext(ctx)
	return session.Subject
}
