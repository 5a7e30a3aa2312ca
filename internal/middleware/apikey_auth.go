package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vtryon/backend/internal/auth"
	"github.com/vtryon/backend/internal/repository"
)

// APIKeyRepo is the interface used by API key auth middleware.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*repository.APIKeyWithUser, error)
}

// APIKeyAuth authenticates external callers by hashing the X-API-Key header
// (or a Bearer token) with SHA-256 and looking it up in api_keys. On success
// the key's owner becomes the request user.
func APIKeyAuth(repo APIKeyRepo, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if raw == "" {
				raw = extractBearer(r)
			}
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			result, err := repo.FindByKeyHash(r.Context(), auth.HashAPIKey(raw))
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					logger.Error("api key lookup failed", "error", err)
				}
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := WithUserID(r.Context(), result.User.ID)
			ctx = context.WithValue(ctx, ctxViaAPIKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
