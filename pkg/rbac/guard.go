package rbac

import "github.com/platinummonkey/tenancy/pkg/permissions"

// Mutation is a change to a membership's role set
type Mutation int

const (
	Assign Mutation = iota
	Unassign
)

func (m Mutation) String() string {
	if m == Unassign {
		return "unassign"
	}
	return "assign"
}

// Rejection explains why a role mutation is refused
type Rejection int

const (
	NotRejected Rejection = iota
	AlreadyAssigned
	NotAssigned
	ProtectedOwner
	ProtectedBaseline
)

func (r Rejection) String() string {
	switch r {
	case AlreadyAssigned:
		return "user already has the role"
	case NotAssigned:
		return "user does not have this role assigned"
	case ProtectedOwner:
		return "the owner role can only change through an ownership transfer"
	case ProtectedBaseline:
		return "the user role cannot be un-assigned"
	default:
		return "allowed"
	}
}

// GuardResult is the outcome of GuardRoleMutation
type GuardResult struct {
	Allowed   bool
	Rejection Rejection
}

func allow() GuardResult {
	return GuardResult{Allowed: true}
}

func reject(r Rejection) GuardResult {
	return GuardResult{Rejection: r}
}

// GuardRoleMutation decides whether op may apply role to a membership
// currently holding current.
func GuardRoleMutation(op Mutation, role *OrganizationRole, current []*OrganizationRole) GuardResult {
	held := ContainsRole(current, role.ID)

	switch op {
	case Assign:
		if held {
			return reject(AlreadyAssigned)
		}
		if role.Is(permissions.RoleOwner) {
			return reject(ProtectedOwner)
		}
	case Unassign:
		if !held {
			return reject(NotAssigned)
		}
		if role.Is(permissions.RoleOwner) {
			return reject(ProtectedOwner)
		}
		if role.Is(permissions.RoleUser) {
			return reject(ProtectedBaseline)
		}
	}

	return allow()
}
