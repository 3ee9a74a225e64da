package auth

import "slices"

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermBookingCreate Permission = "booking:create"
	PermBookingManage Permission = "booking:manage"
	PermPairingManage Permission = "pairing:manage"
	PermGroupManage   Permission = "group:manage"
	PermLabPublish    Permission = "lab:publish"
	PermAuditRead     Permission = "audit:read"
	PermSystemAdmin   Permission = "system:admin"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleStudent: {
		PermDeviceRead,
		PermDeviceOperate, // only on devices the student holds the current booking for
		PermBookingCreate,
	},
	RoleTeacher: {
		PermDeviceRead,
		PermDeviceOperate,
		PermBookingCreate,
		PermBookingManage,
		PermPairingManage,
		PermLabPublish,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermDeviceOperate,
		PermBookingCreate,
		PermBookingManage,
		PermPairingManage,
		PermGroupManage,
		PermLabPublish,
		PermAuditRead,
		PermSystemAdmin,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	return slices.Clone(perms)
}

// IsBookingScoped returns true if the role may only operate devices it
// currently holds a booking on.
func IsBookingScoped(role Role) bool {
	return role == RoleStudent
}
