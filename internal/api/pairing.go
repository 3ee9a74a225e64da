package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshlab-core/internal/audit"
)

// pairingStartRequest is the body for POST /pairing/start. Duration is in
// seconds; zero uses the configured default.
type pairingStartRequest struct {
	Duration int `json:"duration"`
}

// handlePairingStatus returns the current window and discovered devices.
func (s *Server) handlePairingStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.pairingConfigured(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.pairing.Status())
}

// handlePairingStart opens a pairing window.
func (s *Server) handlePairingStart(w http.ResponseWriter, r *http.Request) {
	if !s.pairingConfigured(w) {
		return
	}

	var req pairingStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	duration := s.pairing.DefaultDuration()
	if req.Duration != 0 {
		duration = time.Duration(req.Duration) * time.Second
	}

	status, err := s.pairing.Start(r.Context(), duration)
	if err != nil {
		s.writeDomainError(w, err, "failed to start pairing")
		return
	}

	caller, _ := identityFromContext(r.Context())
	s.auditLog(audit.ActionPairingStart, audit.EntityPairing, "", caller.UserID, map[string]any{
		"duration_seconds": int(duration / time.Second),
	})
	writeJSON(w, http.StatusOK, status)
}

// handlePairingStop closes the window. Stopping an idle coordinator succeeds.
func (s *Server) handlePairingStop(w http.ResponseWriter, r *http.Request) {
	if !s.pairingConfigured(w) {
		return
	}
	if err := s.pairing.Stop(r.Context()); err != nil {
		// The window is already closed locally; report the bus failure.
		s.writeDomainError(w, err, "failed to stop pairing")
		return
	}

	caller, _ := identityFromContext(r.Context())
	s.auditLog(audit.ActionPairingStop, audit.EntityPairing, "", caller.UserID, nil)
	writeJSON(w, http.StatusOK, s.pairing.Status())
}

// handlePairingConfirm waits for the bridge to list a discovered device and
// returns its record.
func (s *Server) handlePairingConfirm(w http.ResponseWriter, r *http.Request) {
	if !s.pairingConfigured(w) {
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := s.pairing.ConfirmDevice(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "failed to confirm device")
		return
	}

	caller, _ := identityFromContext(r.Context())
	s.auditLog(audit.ActionPairingConfirm, audit.EntityDevice, rec.ID, caller.UserID, map[string]any{
		"friendly_name": rec.FriendlyName,
	})
	writeJSON(w, http.StatusOK, rec)
}

// handlePairingDiscard drops a discovered device without confirming it.
func (s *Server) handlePairingDiscard(w http.ResponseWriter, r *http.Request) {
	if !s.pairingConfigured(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.pairing.Discard(id); err != nil {
		s.writeDomainError(w, err, "failed to discard device")
		return
	}

	caller, _ := identityFromContext(r.Context())
	s.auditLog(audit.ActionPairingDiscard, audit.EntityDevice, id, caller.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pairingConfigured(w http.ResponseWriter) bool {
	if s.pairing == nil {
		writeInternalError(w, "pairing not configured")
		return false
	}
	return true
}
