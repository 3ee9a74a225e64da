package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshlab-core/internal/auth"
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

			r.Get("/me", s.handleMe)
			r.Get("/ws", s.handleWebSocket)

			r.Route("/devices", func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceRead))
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/availability", s.handleDeviceAvailability)
					r.Get("/queue", s.handleDeviceQueue)
					r.With(requirePermission(auth.PermDeviceOperate)).Post("/command", s.handleDeviceCommand)
				})
			})

			r.Route("/groups", func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceRead))
				r.Get("/", s.handleListGroups)
				r.Get("/{id}", s.handleGetGroup)
				r.With(requirePermission(auth.PermGroupManage)).Patch("/{id}", s.handleUpdateGroup)
			})

			r.With(requirePermission(auth.PermDeviceRead)).Get("/network", s.handleNetwork)

			r.Route("/pairing", func(r chi.Router) {
				r.Use(requirePermission(auth.PermPairingManage))
				r.Get("/", s.handlePairingStatus)
				r.Post("/start", s.handlePairingStart)
				r.Post("/stop", s.handlePairingStop)
				r.Post("/devices/{id}/confirm", s.handlePairingConfirm)
				r.Delete("/devices/{id}", s.handlePairingDiscard)
			})

			r.Route("/bookings", func(r chi.Router) {
				r.With(requirePermission(auth.PermBookingCreate)).Post("/", s.handleCreateBooking)
				r.Get("/mine", s.handleMyBookings)
				r.Get("/{id}", s.handleGetBooking)
				r.Patch("/{id}", s.handleUpdateBooking)
				r.Delete("/{id}", s.handleCancelBooking)
			})

			r.Route("/labs/{lab}", func(r chi.Router) {
				r.Use(requirePermission(auth.PermLabPublish))
				r.Post("/updates", s.handleLabUpdate)
				r.Post("/results", s.handleLabResult)
			})

			r.With(requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
			r.With(requirePermission(auth.PermSystemAdmin)).Get("/metrics", s.handleMetrics)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	bus := s.commander.Status()
	status := "ok"
	if !bus.Connected || !bus.BridgeUp {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"bridge":  bus,
	})
}
