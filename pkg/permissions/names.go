package permissions

// Organization permission names
const (
	RoleView           = "org-dashboard:role:view"
	RoleCreate         = "org-dashboard:role:create"
	RoleUpdate         = "org-dashboard:role:update"
	RoleDelete         = "org-dashboard:role:delete"
	RoleAssign         = "org-dashboard:role:assign"
	RoleUnassign       = "org-dashboard:role:un-assign"
	PermissionAssign   = "org-dashboard:permission:assign"
	PermissionUnassign = "org-dashboard:permission:un-assign"
	ContentView        = "organization:content:view"
	ContentCreate      = "organization:content:create"
	ContentUpdate      = "organization:content:update"
	ContentDelete      = "organization:content:delete"
	DashContentView    = "org-dashboard:content:view"
	DashContentDelete  = "org-dashboard:content:delete"
	DashOrgUpdate      = "org-dashboard:organization:update"
	UserInvite         = "organization:user:invite"
	UserKick           = "organization:user:kick"
	TransferOwnership  = "organization:transfer-ownership"
)

// DefaultRole names one of the roles every organization is bootstrapped with
type DefaultRole string

const (
	RoleOwner DefaultRole = "OWNER"
	RoleAdmin DefaultRole = "ADMIN"
	RoleUser  DefaultRole = "USER"
)

// IsDefaultRoleName reports whether name is one of the bootstrap role names
func IsDefaultRoleName(name string) bool {
	switch DefaultRole(name) {
	case RoleOwner, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// DefaultGlobalRole names a platform-wide role
type DefaultGlobalRole string

const (
	GlobalRoleUser       DefaultGlobalRole = "USER"
	GlobalRoleAdmin      DefaultGlobalRole = "ADMIN"
	GlobalRoleSuperAdmin DefaultGlobalRole = "SUPERADMIN"
)
