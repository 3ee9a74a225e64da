package api

import (
	"net/http"

	"github.com/nerrad567/meshlab-core/internal/auth"
)

// meResponse describes the authenticated caller.
type meResponse struct {
	auth.Identity
	Permissions   []auth.Permission `json:"permissions"`
	BookingScoped bool              `json:"booking_scoped"`
}

// handleMe returns the caller's identity and effective permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Identity:      id,
		Permissions:   auth.PermissionsForRole(id.Role),
		BookingScoped: auth.IsBookingScoped(id.Role),
	})
}
