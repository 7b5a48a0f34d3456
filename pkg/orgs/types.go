package orgs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/platinummonkey/tenancy/pkg/rbac"
)

// ErrNotFound is returned by the store when a row does not exist
var ErrNotFound = errors.New("not found")

// Organization is a tenant
type Organization struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	OwnerID   int64           `json:"owner_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateOrganizationRequest describes a new organization
type CreateOrganizationRequest struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Membership links a user to an organization
type Membership struct {
	OrganizationID int64                    `json:"organization_id"`
	UserID         int64                    `json:"user_id"`
	IsMember       bool                     `json:"is_member"`
	JoinedAt       time.Time                `json:"joined_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
	Roles          []*rbac.OrganizationRole `json:"roles,omitempty"`
}

// Active reports whether m exists and has not been left or kicked
func (m *Membership) Active() bool {
	return m != nil && m.IsMember
}

// HasRole reports whether the membership holds roleID
func (m *Membership) HasRole(roleID int64) bool {
	return rbac.ContainsRole(m.Roles, roleID)
}

// InvitationStatus is the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "PENDING"
	InvitationAccepted  InvitationStatus = "ACCEPTED"
	InvitationRejected  InvitationStatus = "REJECTED"
	InvitationCancelled InvitationStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible
func (s InvitationStatus) Terminal() bool {
	return s != InvitationPending
}

// InvitationAction is a caller's request to end a pending invitation
type InvitationAction string

const (
	ActionCancel InvitationAction = "CANCEL"
	ActionReject InvitationAction = "REJECT"
)

// Invitation asks a user to join an organization
type Invitation struct {
	ID             int64            `json:"id"`
	OrganizationID int64            `json:"organization_id"`
	SenderID       int64            `json:"sender_id"`
	RecipientID    int64            `json:"recipient_id"`
	Status         InvitationStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SwapResult holds both memberships after an ownership transfer
type SwapResult struct {
	NewOwner      *Membership `json:"new_owner"`
	PreviousOwner *Membership `json:"previous_owner"`
}
