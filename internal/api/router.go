package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)

			r.Route("/nodes", func(r chi.Router) {
				r.Get("/", s.handleListNodes)
				r.Get("/{address}", s.handleGetNode)
				r.Post("/{address}/commands/{command}", s.handleNodeCommand)
			})

			r.Get("/devices", s.handleListDevices)
			r.Put("/devices", s.handleReplaceDevices)
			r.Post("/discover", s.handleDiscover)
			r.Get("/topics", s.handleListTopics)
			r.Get("/notices", s.handleListNotices)

			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.gw.Status()
	status := "ok"
	if !st.Connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"version":   s.version,
		"connected": st.Connected,
	})
}

// handleStatus returns the full gateway status including the last
// discovery pass.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Status())
}
