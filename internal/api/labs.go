package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// labResultRequest is the body for POST /labs/{lab}/results. UserID names
// the student the result belongs to; the rest is pushed as-is.
type labResultRequest struct {
	UserID string         `json:"user_id"`
	Result map[string]any `json:"result"`
}

// handleLabUpdate pushes a lab_update to the lab's subscribers.
//
// POST /labs/{lab}/updates
// Body: free-form JSON object
// Response: {"delivered": N}
func (s *Server) handleLabUpdate(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload) == 0 {
		writeBadRequest(w, "body must be a non-empty JSON object")
		return
	}
	n := s.fanout.PublishLabUpdate(r.Context(), chi.URLParam(r, "lab"), payload)
	writeJSON(w, http.StatusAccepted, map[string]any{"delivered": n})
}

// handleLabResult pushes a lab_result_update to the lab's subscribers and
// to the student it belongs to.
func (s *Server) handleLabResult(w http.ResponseWriter, r *http.Request) {
	var req labResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Result) == 0 {
		writeBadRequest(w, "result is required")
		return
	}
	payload := map[string]any{"result": req.Result}
	if req.UserID != "" {
		payload["user_id"] = req.UserID
	}
	n := s.fanout.PublishLabResult(r.Context(), chi.URLParam(r, "lab"), req.UserID, payload)
	writeJSON(w, http.StatusAccepted, map[string]any{"delivered": n})
}
