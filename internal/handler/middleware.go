package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/assistant-manager-bfa/internal/domain"
	"github.com/boddenberg/assistant-manager-bfa/internal/port"

	"go.uber.org/zap"
)

type contextKey string

const identityKey contextKey = "identity"

// BearerAuthMiddleware validates Bearer tokens with verifier and injects
// the identity into the request context. Tokens of another kind are
// rejected.
func BearerAuthMiddleware(verifier port.IdentityVerifier, kind string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			id, err := verifier.Verify(strings.TrimSpace(parts[1]))
			if err != nil || id.Kind != kind {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *domain.Identity {
	id, _ := ctx.Value(identityKey).(*domain.Identity)
	return id
}

// subject is the authenticated user id; routes using it sit behind
// BearerAuthMiddleware.
func subject(r *http.Request) string {
	if id := IdentityFromContext(r.Context()); id != nil {
		return id.Subject
	}
	return ""
}

// bodyLimit caps request bodies at n bytes.
func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
