package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshlab-core/internal/audit"
	"github.com/nerrad567/meshlab-core/internal/auth"
	"github.com/nerrad567/meshlab-core/internal/device"
)

// handleListDevices returns every cached device with its state and availability.
//
// Query parameters:
//   - capability: only devices exposing this capability (switch, brightness, ...)
//   - reachable: "true" or "false" to filter on the last availability report
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	capability := q.Get("capability")
	reachable := q.Get("reachable")

	views := s.cache.Views()
	filtered := make([]device.View, 0, len(views))
	for _, v := range views {
		if capability != "" && !hasCapability(v.Record, capability) {
			continue
		}
		if reachable != "" {
			if v.Availability == nil || (reachable == "true") != v.Availability.Reachable {
				continue
			}
		}
		filtered = append(filtered, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": filtered, "count": len(filtered)})
}

func hasCapability(r device.Record, capability string) bool {
	for _, c := range device.Capabilities(r.Exposes()) {
		if c == capability {
			return true
		}
	}
	return false
}

// handleGetDevice returns one device by IEEE address or friendly name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	view, err := s.cache.View(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDeviceCommand forwards a state change to the bridge.
//
// The body is the bridge's set payload, e.g. {"state":"ON","brightness":120}.
// Students must hold the device's current booking; teachers and
// administrators may command any device.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := identityFromContext(ctx)

	rec, err := s.cache.Device(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get device")
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(payload) == 0 {
		writeBadRequest(w, "command payload is empty")
		return
	}

	if auth.IsBookingScoped(id.Role) {
		holder, held, err := s.scheduler.CurrentHolder(ctx, rec.ID)
		if err != nil {
			s.writeDomainError(w, err, "failed to check booking")
			return
		}
		if !held || holder != id.UserID {
			writeError(w, http.StatusForbidden, ErrCodeBookingRequired, "you need the current booking for this device")
			return
		}
	}

	if err := s.commander.SendCommand(ctx, rec.FriendlyName, payload); err != nil {
		s.writeDomainError(w, err, "failed to send command")
		return
	}

	s.auditLog(audit.ActionDeviceCommand, audit.EntityDevice, rec.ID, id.UserID, map[string]any{"payload": payload})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": rec.ID,
	})
}

// handleDeviceAvailability returns the device's booking timeline at this instant.
func (s *Server) handleDeviceAvailability(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	a, err := s.scheduler.GetAvailability(r.Context(), deviceID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get availability")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleDeviceQueue returns the device's upcoming and current bookings.
func (s *Server) handleDeviceQueue(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	queue, err := s.scheduler.GetQueue(r.Context(), deviceID)
	if err != nil {
		s.writeDomainError(w, err, "failed to get queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": deviceID, "bookings": queue, "count": len(queue)})
}

// resolveDevice maps the {id} path parameter to a known device ID.
func (s *Server) resolveDevice(w http.ResponseWriter, r *http.Request) (string, bool) {
	rec, err := s.cache.Device(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return "", false
		}
		s.writeDomainError(w, err, "failed to get device")
		return "", false
	}
	return rec.ID, true
}

// handleNetwork returns the bridge's network info, the bus session and
// cache counters.
func (s *Server) handleNetwork(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"bridge": s.commander.Status(),
		"cache":  s.cache.Stats(),
	}
	if info, ok := s.cache.NetworkInfo(); ok {
		resp["network"] = info
	}
	writeJSON(w, http.StatusOK, resp)
}
