package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vtryon/backend/internal/schema"
)

const maxBodyBytes = 64 << 10

// BodyValidator checks a raw request body against a named schema.
type BodyValidator interface {
	Validate(name string, body []byte) error
}

// ValidateBody rejects bodies that do not match the named schema with 400.
// The body is read once, then replaced so downstream handlers can re-read it.
func ValidateBody(v BodyValidator, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(bodyBytes) > maxBodyBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if err := v.Validate(name, bodyBytes); err != nil {
				if errors.Is(err, schema.ErrValidation) {
					writeError(w, http.StatusBadRequest, "Invalid request: "+strings.TrimPrefix(err.Error(), schema.ErrValidation.Error()+": "))
					return
				}
				writeError(w, http.StatusInternalServerError, "validation unavailable")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			next.ServeHTTP(w, r)
		})
	}
}
