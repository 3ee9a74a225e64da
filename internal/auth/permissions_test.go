package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role      Role
		should    []Permission
		shouldNot []Permission
	}{
		{
			role:      RoleStudent,
			should:    []Permission{PermDeviceRead, PermDeviceOperate, PermBookingCreate},
			shouldNot: []Permission{PermBookingManage, PermPairingManage, PermLabPublish, PermGroupManage, PermAuditRead, PermSystemAdmin},
		},
		{
			role:      RoleTeacher,
			should:    []Permission{PermDeviceRead, PermBookingManage, PermPairingManage, PermLabPublish},
			shouldNot: []Permission{PermGroupManage, PermAuditRead, PermSystemAdmin},
		},
		{
			role:   RoleAdmin,
			should: []Permission{PermDeviceRead, PermDeviceOperate, PermBookingManage, PermPairingManage, PermGroupManage, PermLabPublish, PermAuditRead, PermSystemAdmin},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			for _, perm := range tt.should {
				if !HasPermission(tt.role, perm) {
					t.Errorf("%s should have %s", tt.role, perm)
				}
			}
			for _, perm := range tt.shouldNot {
				if HasPermission(tt.role, perm) {
					t.Errorf("%s should NOT have %s", tt.role, perm)
				}
			}
		})
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission("visitor", PermDeviceRead) {
		t.Error("unknown role should have no permissions")
	}
	if PermissionsForRole("visitor") != nil {
		t.Error("PermissionsForRole(unknown) should be nil")
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleStudent)
	perms[0] = PermSystemAdmin
	if HasPermission(RoleStudent, PermSystemAdmin) {
		t.Error("mutating the returned slice changed the role mapping")
	}
}

func TestRoles(t *testing.T) {
	if RoleStudent.IsPrivileged() {
		t.Error("student should not be privileged")
	}
	if !RoleTeacher.IsPrivileged() || !RoleAdmin.IsPrivileged() {
		t.Error("teacher and admin should be privileged")
	}
	if !IsBookingScoped(RoleStudent) || IsBookingScoped(RoleTeacher) {
		t.Error("only students are booking scoped")
	}
	if IsValidRole("owner") || !IsValidRole(RoleAdmin) {
		t.Error("IsValidRole mismatch")
	}
}
