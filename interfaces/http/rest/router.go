// Package rest wires the HTTP routes in front of the application services.
package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"membank-backend/interfaces/http/rest/handlers"
	"membank-backend/interfaces/http/rest/middleware"
	"membank-backend/pkg/ratelimit"
)

// Router assembles the HTTP surface
type Router struct {
	memory     *handlers.MemoryHandler
	extraction *handlers.ExtractionHandler
	precompute *handlers.PrecomputeHandler
	health     *handlers.HealthHandler
	logger     *zap.Logger
}

// NewRouter creates the router
func NewRouter(
	memory *handlers.MemoryHandler,
	extraction *handlers.ExtractionHandler,
	precompute *handlers.PrecomputeHandler,
	health *handlers.HealthHandler,
	logger *zap.Logger,
) *Router {
	return &Router{
		memory:     memory,
		extraction: extraction,
		precompute: precompute,
		health:     health,
		logger:     logger,
	}
}

// Setup builds the route tree
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(rt.logger))
	r.Use(middleware.RequestCache)

	r.Get("/health/live", rt.health.Live)
	r.Get("/health/ready", rt.health.Ready)

	limiter := ratelimit.NewTokenBucketLimiter(100, 60*time.Millisecond)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter))
		r.Post("/search", rt.memory.Search)

		r.Route("/memory", func(r chi.Router) {
			r.Post("/messages", rt.memory.AddMessage)
			r.Get("/context/{sessionID}", rt.memory.GetContext)
			r.Get("/facts/{userID}", rt.memory.ListFacts)
			r.Delete("/facts/{userID}", rt.memory.DeleteUserFacts)
		})

		r.Post("/extract", rt.extraction.Extract)
		r.Get("/jobs/{jobID}", rt.extraction.JobStatus)

		r.Post("/precompute/{userID}", rt.precompute.PrecomputeUser)
	})

	return r
}
