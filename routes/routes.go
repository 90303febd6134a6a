package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ranked1v1/matchcore/handlers"
)

// New builds the router for spec §6's HTTP surface plus /metrics.
func New(match *handlers.MatchHandler) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		MaxAge:           300,
	}))

	router.Post("/match", match.RequestMatch)
	router.Post("/match/stream", match.StreamMatch)
	router.Post("/match/start", match.StartMatch)
	router.Post("/match/finish", match.FinishMatch)
	router.Get("/match/cancel/{match_id}", match.CancelMatch)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", match.Health)
	})

	router.Handle("/metrics", promhttp.Handler())

	return router
}
