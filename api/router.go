package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/internal/auth"
	"github.com/shareloft/shareloft/internal/chizap"
	"github.com/shareloft/shareloft/internal/config"
	"github.com/shareloft/shareloft/pkg/services"
)

func NewRouter(srv *services.ApiService, cnf *config.Config, lg *zap.Logger) *chi.Mux {
	h := &handler{srv: srv}

	mux := chi.NewRouter()
	mux.Use(chimiddleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         86400,
	}))
	mux.Use(chimiddleware.RealIP)
	mux.Use(chizap.Chizap(lg, &chizap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
	}))

	mux.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(&cnf.JWT))
			r.Post("/shares", h.createShare)
			r.Get("/shares", h.listShares)
			r.Delete("/shares/{id}", h.deleteShare)
		})

		// Anonymous fulfillment: the share id is the bearer capability.
		r.Get("/share-requests/{id}", h.readFulfillmentTarget)
		r.Post("/share-requests/{id}", h.submitFulfillment)
	})

	return mux
}
