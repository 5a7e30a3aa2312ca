package router

import (
	"net/http"

	"github.com/vtryon/backend/internal/auth"
	"github.com/vtryon/backend/internal/dashboard"
	"github.com/vtryon/backend/internal/handlers"
	"github.com/vtryon/backend/internal/middleware"
	"github.com/vtryon/backend/internal/schema"
)

type Deps struct {
	Auth      *auth.Handler
	TryOn     *handlers.TryOnHandler
	Dashboard *dashboard.Handler
	Tokens    middleware.TokenValidator
	APIKeys   middleware.APIKeyRepo
	Validator middleware.BodyValidator
}

type chain func(http.Handler) http.Handler

func wrap(h http.HandlerFunc, mws ...chain) http.Handler {
	var out http.Handler = h
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// New returns an http.Handler serving the session API under /api/v1 and the
// key-authenticated API under /v1/external.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	session := middleware.SessionAuth(d.Tokens)
	apiKey := middleware.APIKeyAuth(d.APIKeys, nil)
	submitBody := middleware.ValidateBody(d.Validator, schema.Submit)
	pollBody := middleware.ValidateBody(d.Validator, schema.Poll)

	const base = "/api/v1"
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)

	mux.Handle("POST "+base+"/try-on/submit", wrap(d.TryOn.Submit, session, submitBody))
	mux.Handle("POST "+base+"/try-on/poll", wrap(d.TryOn.Poll, session, pollBody))
	mux.Handle("GET "+base+"/try-on/pending-tasks", wrap(d.TryOn.PendingTasks, session))
	mux.Handle("GET "+base+"/try-on/history", wrap(d.TryOn.ListHistory, session))
	mux.Handle("GET "+base+"/try-on/{id}", wrap(d.TryOn.GetTask, session))
	mux.Handle("DELETE "+base+"/try-on/{id}", wrap(d.TryOn.DeleteTask, session))
	mux.Handle("GET "+base+"/quota", wrap(d.TryOn.GetQuota, session))

	mux.Handle("GET "+base+"/account/me", wrap(d.Dashboard.GetMe, session))
	mux.Handle("GET "+base+"/api-keys", wrap(d.Dashboard.ListAPIKeys, session))
	mux.Handle("POST "+base+"/api-keys", wrap(d.Dashboard.CreateAPIKey, session))
	mux.Handle("DELETE "+base+"/api-keys/{id}", wrap(d.Dashboard.DeleteAPIKey, session))

	mux.Handle("POST /v1/external/try-on", wrap(d.TryOn.Submit, apiKey, submitBody))
	mux.Handle("GET /v1/external/try-on/{taskId}", wrap(d.TryOn.ExternalResult, apiKey))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
