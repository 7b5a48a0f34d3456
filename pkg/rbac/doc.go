// Package rbac stores tenant-scoped roles and permissions and decides which
// role mutations are allowed.
//
// # Roles and Permissions
//
// An OrganizationPermission is a globally unique name such as
// "org-dashboard:role:assign". An OrganizationRole belongs to exactly one
// organization and carries a set of permissions. Every organization starts
// with the three default roles from the permission catalog:
//
//	OWNER  every permission; held by exactly one member, the organization owner
//	ADMIN  everything except role deletion, permission assignment,
//	       organization update and ownership transfer
//	USER   the baseline role every active member holds
//
// BuildDefaultRoles materializes those roles for a new organization.
//
// # Guarded Mutation
//
// GuardRoleMutation is the single decision point for assigning and
// un-assigning roles on a membership. It rejects:
//
//	AlreadyAssigned    assigning a role the member already holds
//	NotAssigned        un-assigning a role the member does not hold
//	ProtectedOwner     any generic assign or un-assign of OWNER
//	ProtectedBaseline  un-assigning USER
//
// Callers run the guard once on pre-fetched data and again inside the
// transaction on the freshly locked role set.
//
// # Role Administration
//
// RoleService creates, renames and deletes custom roles and edits role
// permission sets. Default roles cannot be deleted or renamed, and the
// OWNER permission set is immutable. Each mutation invalidates the
// authorization cache before returning.
//
// # Catalog Seeding
//
// SeedCatalog upserts the catalog's organization and global permissions.
// A permission that did not exist before is appended to the matching
// default role of every existing organization; permissions an
// administrator removed from a role are not re-added.
package rbac
