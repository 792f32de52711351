package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// TokenSource reports the bearer token the gateway would attach upstream.
type TokenSource interface {
	Token(ctx context.Context) string
}

type AuthMiddleware struct {
	tokens TokenSource
	logger *logrus.Logger
}

func NewAuthMiddleware(tokens TokenSource, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger,
	}
}

// RequireSession rejects requests while no bearer token is stored. Expiry is
// not checked here; an expired token is refreshed on the upstream 401.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokens.Token(r.Context()) == "" {
			m.logger.WithField("path", r.URL.Path).Debug("No session for protected route")
			m.respondUnauthorized(w, "Login required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + message + `"}}`))
}
