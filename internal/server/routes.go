// Package server wires HTTP handlers into a chi router for the relay.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UploadsPath is the URL prefix uploaded files are served under.
const UploadsPath = "/uploads/"

// Routes configures and returns the application router. It sets up the
// health check, WebSocket endpoint, test page, metrics and REST endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(s.log))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", s.HealthHandler)
	r.Get("/health", s.HealthHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.Get("/test", s.TestPageHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/subscribe", s.SubscribeHandler)
		r.Post("/upload", s.UploadHandler)
	})

	if s.uploads != nil {
		r.Handle(UploadsPath+"*", http.StripPrefix(UploadsPath, http.FileServer(http.Dir(s.uploads.Dir()))))
	}

	return r
}
