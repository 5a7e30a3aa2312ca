package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const sessionCookie = "session"

// TokenValidator resolves a session token to its user.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// SessionAuth authenticates first-party callers with a signed session token,
// read from the Bearer header or the session cookie.
func SessionAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				if c, err := r.Cookie(sessionCookie); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			userID, err := tokens.ValidateToken(r.Context(), token)
			if err != nil || userID == uuid.Nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
