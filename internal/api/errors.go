package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/meshlab-core/internal/booking"
	"github.com/nerrad567/meshlab-core/internal/bridge"
	"github.com/nerrad567/meshlab-core/internal/device"
	"github.com/nerrad567/meshlab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshlab-core/internal/pairing"
)

// Error represents a structured error response.
type Error struct {
	Status   int            `json:"status"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Conflict *ConflictError `json:"conflict,omitempty"`
}

// ConflictError identifies the booking that blocks a requested interval.
type ConflictError struct {
	BookingID string    `json:"booking_id"`
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeBusUnavailable  = "bus_unavailable"
	ErrCodeBookingRequired = "booking_required"
	ErrCodePairingActive   = "pairing_active"
	ErrCodeNotConfirmed    = "not_confirmed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a domain error to its HTTP response. Errors it does
// not recognise are logged and reported as 500 with fallback as the message.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	var conflict *booking.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, Error{
			Status:  http.StatusConflict,
			Code:    ErrCodeConflict,
			Message: "device is already booked for part of that interval",
			Conflict: &ConflictError{
				BookingID: conflict.Existing.ID,
				Start:     conflict.Existing.Start,
				End:       conflict.Existing.End,
			},
		})

	case errors.Is(err, booking.ErrInvalidInterval),
		errors.Is(err, booking.ErrStartInPast),
		errors.Is(err, booking.ErrInvalidBooking),
		errors.Is(err, booking.ErrAlreadyEnded),
		errors.Is(err, booking.ErrUnknownDevice),
		errors.Is(err, pairing.ErrInvalidDuration),
		errors.Is(err, device.ErrInvalidGroupMeta),
		errors.Is(err, bridge.ErrInvalidTarget),
		errors.Is(err, bridge.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())

	case errors.Is(err, booking.ErrBookingNotFound):
		writeNotFound(w, "booking not found")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrGroupNotFound):
		writeNotFound(w, "group not found")
	case errors.Is(err, pairing.ErrNotDiscovered):
		writeNotFound(w, "device was not discovered in a pairing window")

	case errors.Is(err, booking.ErrForbidden):
		writeForbidden(w, "not allowed to change this booking")
	case errors.Is(err, booking.ErrNotActive):
		writeError(w, http.StatusConflict, ErrCodeConflict, "booking is no longer active")
	case errors.Is(err, pairing.ErrPairingActive):
		writeError(w, http.StatusConflict, ErrCodePairingActive, "a pairing window is already open")
	case errors.Is(err, pairing.ErrDeviceNotConfirmed):
		writeError(w, http.StatusGatewayTimeout, ErrCodeNotConfirmed, "bridge did not list the device in time")

	case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, mqtt.ErrPublishFailed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeBusUnavailable, "device bus is unavailable")

	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
