// Package auth verifies callers for MeshLab Core.
//
// It implements a 3-tier role model (student → teacher → admin) with:
//   - HS256 JWT verification of tokens issued by the lab identity service
//   - Static role-permission mapping (compile-time, no database lookup)
//   - Booking scoping: students operate only devices they currently hold
//
// Teachers and admins are privileged: they may cancel or edit any booking
// and receive every booking notification.
package auth
