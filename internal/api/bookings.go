package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshlab-core/internal/audit"
	"github.com/nerrad567/meshlab-core/internal/auth"
	"github.com/nerrad567/meshlab-core/internal/booking"
)

// handleCreateBooking reserves a device for the caller.
//
// POST /bookings
// Body: {"device_id": "...", "start_time": RFC3339, "end_time": RFC3339, "purpose": "..."}
// Response: 201 with the booking, 409 with the competing interval on overlap
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFromContext(r.Context())

	var req booking.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.DeviceID = s.cache.ResolveID(req.DeviceID)
	req.UserID = caller.UserID

	b, err := s.scheduler.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err, "failed to create booking")
		return
	}

	s.auditBooking(audit.ActionBookingCreate, caller, b)
	writeJSON(w, http.StatusCreated, b)
}

// handleMyBookings returns every booking the caller made, newest first.
func (s *Server) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFromContext(r.Context())
	bookings, err := s.scheduler.GetUserBookings(r.Context(), caller.UserID)
	if err != nil {
		s.writeDomainError(w, err, "failed to list bookings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings, "count": len(bookings)})
}

// handleGetBooking returns one booking to its owner or to staff.
func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFromContext(r.Context())
	b, err := s.scheduler.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get booking")
		return
	}
	if b.UserID != caller.UserID && !auth.HasPermission(caller.Role, auth.PermBookingManage) {
		writeForbidden(w, "not your booking")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleUpdateBooking edits an active booking's interval or purpose.
//
// PATCH /bookings/{id}
// Body: any of {"start_time", "end_time", "purpose"}
func (s *Server) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFromContext(r.Context())

	var patch booking.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	b, err := s.scheduler.UpdateBooking(r.Context(), chi.URLParam(r, "id"), actorOf(caller), patch)
	if err != nil {
		s.writeDomainError(w, err, "failed to update booking")
		return
	}

	s.auditBooking(audit.ActionBookingUpdate, caller, b)
	writeJSON(w, http.StatusOK, b)
}

// handleCancelBooking cancels an active booking that has not ended.
func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	caller, _ := identityFromContext(r.Context())

	b, err := s.scheduler.CancelBooking(r.Context(), chi.URLParam(r, "id"), actorOf(caller))
	if err != nil {
		s.writeDomainError(w, err, "failed to cancel booking")
		return
	}

	s.auditBooking(audit.ActionBookingCancel, caller, b)
	writeJSON(w, http.StatusOK, b)
}

func actorOf(id auth.Identity) booking.Actor {
	return booking.Actor{UserID: id.UserID, Role: id.Role}
}
