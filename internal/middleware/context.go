package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	ctxUserIDKey contextKey = "user_id"
	ctxViaAPIKey contextKey = "via_api_key"
)

// UserIDFromCtx returns the authenticated user, or uuid.Nil.
func UserIDFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxUserIDKey).(uuid.UUID)
	return id
}

// WithUserID returns a context carrying the authenticated user.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, id)
}

// ViaAPIKey reports whether the request was authenticated with an external key.
func ViaAPIKey(ctx context.Context) bool {
	v, _ := ctx.Value(ctxViaAPIKey).(bool)
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
