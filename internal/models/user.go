package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	// RoleService is used by the sync agent when replaying queued batches.
	RoleService UserRole = "SERVICE"
)

// CanOverrideFinalized reports whether the role may touch finalized attendance.
func (r UserRole) CanOverrideFinalized() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CanFinalize reports whether the role may set the finalized flag through a
// bulk write. The sync agent's own SERVICE role may not; finalized batches are
// replayed under the submitting admin's identity.
func (r UserRole) CanFinalize() bool {
	return r.CanOverrideFinalized()
}
