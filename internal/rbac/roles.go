package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
//
// operator is the dialing operator role: it may enqueue numbers, start/stop
// broadcasts and trigger retries, but cannot manage tenant settings.
const (
	RoleOwner      = "owner"
	RoleOperator   = "operator"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
