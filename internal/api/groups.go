package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meshlab-core/internal/audit"
	"github.com/nerrad567/meshlab-core/internal/device"
)

// groupView is a group plus its last reported state.
type groupView struct {
	device.Group
	State *device.State `json:"state,omitempty"`
}

// handleListGroups returns all bridge groups with operator metadata applied.
//
// GET /groups
// Response: {"groups": [...], "count": N}
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.cache.Groups()
	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, s.groupView(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": views, "count": len(views)})
}

// handleGetGroup returns a single group by numeric ID.
//
// GET /groups/{id}
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	g, err := s.cache.Group(id)
	if err != nil {
		s.writeDomainError(w, err, "failed to get group")
		return
	}
	writeJSON(w, http.StatusOK, s.groupView(*g))
}

// handleUpdateGroup edits a group's name or description. Membership is
// owned by the bridge and cannot be changed here.
//
// PATCH /groups/{id}
// Body: {"name": "...", "description": "..."}
func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	if s.groups == nil {
		writeInternalError(w, "group metadata not configured")
		return
	}
	id, ok := groupID(w, r)
	if !ok {
		return
	}

	var patch device.GroupMetaPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	g, err := s.groups.Update(r.Context(), id, patch)
	if err != nil {
		s.writeDomainError(w, err, "failed to update group")
		return
	}

	caller, _ := identityFromContext(r.Context())
	s.auditLog(audit.ActionGroupUpdate, audit.EntityGroup, strconv.Itoa(id), caller.UserID, map[string]any{
		"name":        g.FriendlyName,
		"description": g.Description,
	})
	writeJSON(w, http.StatusOK, s.groupView(*g))
}

func (s *Server) groupView(g device.Group) groupView {
	v := groupView{Group: g}
	if st, ok := s.cache.State(g.FriendlyName); ok {
		v.State = &st
	}
	return v
}

func groupID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "group id must be a number")
		return 0, false
	}
	return id, true
}
