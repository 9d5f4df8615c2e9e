package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type healthOutput struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (c controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(c.requestIdMw)
	r.Use(c.requestLoggingMw)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthOutput{
			Status:      "ok",
			Connections: c.connRepo.Len(),
		})
	})
	r.Handle("/metrics", c.metrics.Handler())
	r.Route("/ws", func(r chi.Router) {
		r.Get("/rooms/{room-id}", c.joinRoom)
	})

	return r
}
