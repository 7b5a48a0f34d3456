package rbac

import (
	"errors"
	"sort"
	"time"

	"github.com/platinummonkey/tenancy/pkg/permissions"
)

var (
	// ErrRoleNotFound is returned when a role id or name does not resolve
	ErrRoleNotFound = errors.New("role not found")

	// ErrPermissionNotFound is returned when a permission name does not resolve
	ErrPermissionNotFound = errors.New("permission not found")
)

// OrganizationPermission is a tenant-scoped permission row
type OrganizationPermission struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	IsDefaultOwner bool   `json:"is_default_owner"`
	IsDefaultAdmin bool   `json:"is_default_admin"`
	IsDefaultUser  bool   `json:"is_default_user"`
}

// OrganizationRole is a named permission set within one organization
type OrganizationRole struct {
	ID             int64                    `json:"id"`
	OrganizationID int64                    `json:"organization_id"`
	Name           string                   `json:"name"`
	DisplayName    string                   `json:"display_name"`
	Permissions    []OrganizationPermission `json:"permissions"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// Is reports whether the role is the given default role
func (r *OrganizationRole) Is(role permissions.DefaultRole) bool {
	return r != nil && r.Name == string(role)
}

// IsDefault reports whether the role is one of OWNER, ADMIN or USER
func (r *OrganizationRole) IsDefault() bool {
	return r != nil && permissions.IsDefaultRoleName(r.Name)
}

// PermissionNames returns the sorted permission names of the role
func (r *OrganizationRole) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// HasPermission reports whether the role carries the named permission
func (r *OrganizationRole) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// ContainsRole reports whether roles holds a role with the given id
func ContainsRole(roles []*OrganizationRole, roleID int64) bool {
	for _, r := range roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// FindRoleByName returns the role named name, or nil
func FindRoleByName(roles []*OrganizationRole, name string) *OrganizationRole {
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// GlobalPermission is a platform-wide permission row
type GlobalPermission struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description,omitempty"`
	IsDefaultUser       bool   `json:"is_default_user"`
	IsDefaultAdmin      bool   `json:"is_default_admin"`
	IsDefaultSuperAdmin bool   `json:"is_default_superadmin"`
}

// GlobalRole is a platform-wide role
type GlobalRole struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Permissions []GlobalPermission `json:"permissions"`
}
