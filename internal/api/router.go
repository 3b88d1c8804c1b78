package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/navigator/internal/explorer"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *explorer.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Files and derived content.
	r.Get("/files", h.ListFiles)
	r.Get("/files/*", h.GetFile)
	r.Get("/previews/*", h.GetPreview)
	r.Get("/feature-images/*", h.GetFeatureImage)

	// Navigation trees.
	r.Get("/tags", h.Tags)
	r.Get("/properties/{key}", h.PropertyValues)
	r.Get("/stats", h.Stats)
	r.Post("/sync", h.Sync)

	// Appearance sidecar.
	r.Get("/appearance", h.GetAppearance)
	r.Put("/appearance/{kind}/*", h.PutStyle)
	r.Put("/pins/*", h.PutPins)
	r.Put("/sort/{kind}/*", h.PutSort)
	r.Post("/appearance/cleanup", h.CleanupAppearance)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
