package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// TokenVerifier validates a bearer token and returns the claims it carries.
// Implemented by the external session service client; tests inject a stub.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Middleware authenticates requests via an injected TokenVerifier.
type Middleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewMiddleware creates auth middleware over the given verifier.
func NewMiddleware(verifier TokenVerifier, logger *zap.Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		logger:   logger.Named("auth"),
	}
}

// RequireAuth wraps next, rejecting requests without a verifiable bearer
// token with 401. Verified claims are attached to the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			m.unauthorized(w, "missing bearer token")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Debug("Token verification failed", zap.Error(err))
			m.unauthorized(w, "invalid token")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
