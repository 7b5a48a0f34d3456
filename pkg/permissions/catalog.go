// Package permissions is the registry of tenant-scoped and global permission
// identifiers and the default permission sets for bootstrap roles.
//
// The default catalog is compiled into the binary from catalog.yaml. An
// overlay file can add permissions (or turn on default flags) without a
// rebuild:
//
//	cat := permissions.Default()
//	cat, err := cat.MergeFile("/etc/tenancy/permissions.yaml")
//	names := cat.DefaultPermissionsFor(permissions.RoleAdmin)
package permissions

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// OrganizationPermission is a catalog entry for a tenant-scoped permission
type OrganizationPermission struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description,omitempty"`
	DefaultOwner bool   `yaml:"default_owner"`
	DefaultAdmin bool   `yaml:"default_admin"`
	DefaultUser  bool   `yaml:"default_user"`
}

// IsDefaultFor reports whether the permission is granted to role at bootstrap
func (p OrganizationPermission) IsDefaultFor(role DefaultRole) bool {
	switch role {
	case RoleOwner:
		return p.DefaultOwner
	case RoleAdmin:
		return p.DefaultAdmin
	case RoleUser:
		return p.DefaultUser
	}
	return false
}

// GlobalPermission is a catalog entry for a platform-wide permission
type GlobalPermission struct {
	Name              string `yaml:"name"`
	Description       string `yaml:"description,omitempty"`
	DefaultUser       bool   `yaml:"default_user"`
	DefaultAdmin      bool   `yaml:"default_admin"`
	DefaultSuperAdmin bool   `yaml:"default_superadmin"`
}

// IsDefaultFor reports whether the permission is granted to a global role
func (p GlobalPermission) IsDefaultFor(role DefaultGlobalRole) bool {
	switch role {
	case GlobalRoleUser:
		return p.DefaultUser
	case GlobalRoleAdmin:
		return p.DefaultAdmin
	case GlobalRoleSuperAdmin:
		return p.DefaultSuperAdmin
	}
	return false
}

// RoleTemplate describes a bootstrap role
type RoleTemplate struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
}

type catalogFile struct {
	DefaultRoles            []RoleTemplate           `yaml:"default_roles"`
	OrganizationPermissions []OrganizationPermission `yaml:"organization_permissions"`
	DefaultGlobalRoles      []RoleTemplate           `yaml:"default_global_roles"`
	GlobalPermissions       []GlobalPermission       `yaml:"global_permissions"`
}

// Catalog is an immutable, validated permission catalog
type Catalog struct {
	roles       []RoleTemplate
	orgPerms    []OrganizationPermission
	globalRoles []RoleTemplate
	globalPerms []GlobalPermission
	orgIndex    map[string]int
}

var defaultCatalog *Catalog

func init() {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded permission catalog is invalid: %v", err))
	}
	defaultCatalog = c
}

// Default returns the compiled-in catalog
func Default() *Catalog {
	return defaultCatalog
}

// Parse decodes and validates a catalog document
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse permission catalog: %w", err)
	}
	return build(f)
}

func build(f catalogFile) (*Catalog, error) {
	c := &Catalog{
		roles:       f.DefaultRoles,
		orgPerms:    f.OrganizationPermissions,
		globalRoles: f.DefaultGlobalRoles,
		globalPerms: f.GlobalPermissions,
		orgIndex:    make(map[string]int, len(f.OrganizationPermissions)),
	}

	for i, p := range c.orgPerms {
		if p.Name == "" {
			return nil, fmt.Errorf("organization permission %d has no name", i)
		}
		if _, dup := c.orgIndex[p.Name]; dup {
			return nil, fmt.Errorf("duplicate organization permission %q", p.Name)
		}
		c.orgIndex[p.Name] = i
	}

	seenGlobal := make(map[string]bool, len(c.globalPerms))
	for i, p := range c.globalPerms {
		if p.Name == "" {
			return nil, fmt.Errorf("global permission %d has no name", i)
		}
		if seenGlobal[p.Name] {
			return nil, fmt.Errorf("duplicate global permission %q", p.Name)
		}
		seenGlobal[p.Name] = true
	}

	seenRole := make(map[string]bool, len(c.roles))
	for _, r := range c.roles {
		if !IsDefaultRoleName(r.Name) {
			return nil, fmt.Errorf("unsupported default role %q", r.Name)
		}
		if seenRole[r.Name] {
			return nil, fmt.Errorf("duplicate default role %q", r.Name)
		}
		seenRole[r.Name] = true
	}
	for _, required := range []DefaultRole{RoleOwner, RoleAdmin, RoleUser} {
		if !seenRole[string(required)] {
			return nil, fmt.Errorf("default role %s is missing", required)
		}
	}
	if len(c.DefaultPermissionsFor(RoleOwner)) == 0 {
		return nil, fmt.Errorf("default role %s has no permissions", RoleOwner)
	}

	return c, nil
}

// Merge returns a new catalog with overlay entries added. Existing
// permissions are replaced by the overlay's definition of the same name.
// Default roles cannot be redefined by an overlay.
func (c *Catalog) Merge(overlay []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(overlay, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog overlay: %w", err)
	}
	if len(f.DefaultRoles) > 0 || len(f.DefaultGlobalRoles) > 0 {
		return nil, fmt.Errorf("catalog overlay may not redefine default roles")
	}

	merged := catalogFile{
		DefaultRoles:            append([]RoleTemplate(nil), c.roles...),
		OrganizationPermissions: append([]OrganizationPermission(nil), c.orgPerms...),
		DefaultGlobalRoles:      append([]RoleTemplate(nil), c.globalRoles...),
		GlobalPermissions:       append([]GlobalPermission(nil), c.globalPerms...),
	}

	for _, p := range f.OrganizationPermissions {
		if i, ok := c.orgIndex[p.Name]; ok {
			merged.OrganizationPermissions[i] = p
			continue
		}
		merged.OrganizationPermissions = append(merged.OrganizationPermissions, p)
	}

	globalIndex := make(map[string]int, len(merged.GlobalPermissions))
	for i, p := range merged.GlobalPermissions {
		globalIndex[p.Name] = i
	}
	for _, p := range f.GlobalPermissions {
		if i, ok := globalIndex[p.Name]; ok {
			merged.GlobalPermissions[i] = p
			continue
		}
		merged.GlobalPermissions = append(merged.GlobalPermissions, p)
	}

	return build(merged)
}

// MergeFile reads an overlay document from path and merges it
func (c *Catalog) MergeFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog overlay: %w", err)
	}
	return c.Merge(data)
}

// DefaultRoles returns the bootstrap roles in creation order
func (c *Catalog) DefaultRoles() []RoleTemplate {
	return append([]RoleTemplate(nil), c.roles...)
}

// OrganizationPermissions returns every tenant permission in catalog order
func (c *Catalog) OrganizationPermissions() []OrganizationPermission {
	return append([]OrganizationPermission(nil), c.orgPerms...)
}

// HasOrganizationPermission reports whether name is a known tenant permission
func (c *Catalog) HasOrganizationPermission(name string) bool {
	_, ok := c.orgIndex[name]
	return ok
}

// DefaultPermissionsFor returns the sorted permission names role receives at
// bootstrap
func (c *Catalog) DefaultPermissionsFor(role DefaultRole) []string {
	var names []string
	for _, p := range c.orgPerms {
		if p.IsDefaultFor(role) {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultGlobalRoles returns the platform roles in creation order
func (c *Catalog) DefaultGlobalRoles() []RoleTemplate {
	return append([]RoleTemplate(nil), c.globalRoles...)
}

// GlobalPermissions returns every global permission in catalog order
func (c *Catalog) GlobalPermissions() []GlobalPermission {
	return append([]GlobalPermission(nil), c.globalPerms...)
}

// DefaultGlobalPermissionsFor returns the sorted global permission names for
// a platform role
func (c *Catalog) DefaultGlobalPermissionsFor(role DefaultGlobalRole) []string {
	var names []string
	for _, p := range c.globalPerms {
		if p.IsDefaultFor(role) {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}
