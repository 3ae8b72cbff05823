package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", g.opts.Metrics.Handler())

	// Operational endpoints. Protected when a bearer token is configured.
	r.Group(func(r chi.Router) {
		if g.config.BearerToken != "" {
			r.Use(authMiddleware(g.config.BearerToken, g.opts.Audit))
		}
		r.Get("/status", g.handleStatus())
		if g.opts.Bus != nil {
			r.Get("/events", g.handleEvents())
		}
	})

	return r
}
