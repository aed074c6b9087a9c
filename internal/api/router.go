package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-zigbee/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware(routePattern))
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)

				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Put("/properties/{property}", s.handleWriteProperty)
					r.With(s.requirePermission(auth.PermDeviceOperate)).Post("/properties/{property}/plan", s.handlePlanProperty)
					r.With(s.requirePermission(auth.PermDeviceConfigure)).Post("/reconfigure", s.handleReconfigure)
				})
			})
		})

		r.Route("/pairing", func(r chi.Router) {
			r.Get("/", s.handlePairingStatus)
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware, s.requirePermission(auth.PermPairing))
				r.Post("/", s.handleStartPairing)
				r.Delete("/", s.handleStopPairing)
			})
		})

		r.With(s.authMiddleware, s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)

		r.With(s.authMiddleware, s.requirePermission(auth.PermDeviceRead)).Post("/auth/ws-ticket", s.handleWSTicket)

		// Auth via ticket, validated in the handler.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// routePattern labels metrics by route template so device ids do not
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// handleHealth returns the gateway health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"version":        s.version,
			"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.health.Snapshot())
}
