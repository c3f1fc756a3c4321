package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/festival-ballot/internal/hub"
	"github.com/DoyleJ11/festival-ballot/internal/ws"
)

func SetupRoutes(h *hub.Hub, cfg Config, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &API{hub: h, cfg: cfg.withDefaults(), logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/songs", api.ListSongs)
	r.Get("/ws", ws.Handler(h, logger))

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", api.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", api.GetSession)
			r.Delete("/", api.DeleteSession)
			r.Put("/name", api.SetName)
			r.Post("/ranks", api.AssignRank)
			r.Post("/submit", api.Submit)
			r.Get("/results", api.Results)
		})
	})
	return r
}
