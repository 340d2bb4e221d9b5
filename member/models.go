// Package member defines tenant membership records and the seat-driven
// membership reconciliation algorithm.
package member

import (
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
)

// Member is one (tenant, user) membership.
//
// Owners are exempt from seat accounting: entitlement reconciliation never
// deactivates an owner, and every tenant keeps at least one owner at all
// times.
type Member struct {
	types.Entity
	ID            id.MemberID `json:"id"`
	TenantID      string      `json:"tenant_id"`
	UserID        string      `json:"user_id"`
	Role          Role        `json:"role"`
	Status        Status      `json:"status"`
	JoinedAt      time.Time   `json:"joined_at"`
	DeactivatedAt *time.Time  `json:"deactivated_at,omitempty"`
}

// IsOwner reports whether the member holds the owner role.
func (m *Member) IsOwner() bool { return m.Role == RoleOwner }

// IsActive reports whether the member currently occupies a seat.
func (m *Member) IsActive() bool { return m.Status == StatusActive }

// Validate checks the structural invariants of the record.
func (m *Member) Validate() error {
	if m.TenantID == "" {
		return fmt.Errorf("member: missing tenant_id")
	}
	if m.UserID == "" {
		return fmt.Errorf("member: missing user_id")
	}
	switch m.Role {
	case RoleOwner, RoleAdmin, RoleMember:
	default:
		return fmt.Errorf("member: invalid role %q", m.Role)
	}
	switch m.Status {
	case StatusActive, StatusInactive, StatusPending:
	default:
		return fmt.Errorf("member: invalid status %q", m.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	cp := *m
	if m.DeactivatedAt != nil {
		t := *m.DeactivatedAt
		cp.DeactivatedAt = &t
	}
	return &cp
}

// CloneAll deep-copies a member slice.
func CloneAll(members []*Member) []*Member {
	if members == nil {
		return nil
	}
	out := make([]*Member, len(members))
	for i, m := range members {
		out[i] = m.Clone()
	}
	return out
}

// CountOwners returns the number of members holding the owner role.
func CountOwners(members []*Member) int {
	n := 0
	for _, m := range members {
		if m.IsOwner() {
			n++
		}
	}
	return n
}

// CountActiveNonOwners returns the number of active members that consume
// a seat.
func CountActiveNonOwners(members []*Member) int {
	n := 0
	for _, m := range members {
		if !m.IsOwner() && m.IsActive() {
			n++
		}
	}
	return n
}
