// Package subscription defines the per-tenant subscription record.
//
// Exactly one Subscription exists per tenant once a checkout has completed.
// It is never deleted; a terminated subscription transitions to
// StatusCancelled and stays on record.
package subscription

import (
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusPaused     Status = "paused"
	StatusCancelled  Status = "cancelled"
	StatusIncomplete Status = "incomplete"
)

// Valid reports whether s is one of the known subscription statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusPaused, StatusCancelled, StatusIncomplete:
		return true
	}
	return false
}

// Subscription is the licensing state of one tenant.
//
// Entity.UpdatedAt doubles as the monotonic version marker: it is set to the
// provider-side occurrence time of the last applied event, and any event whose
// occurrence time is not strictly newer is discarded as stale.
type Subscription struct {
	types.Entity
	ID                     id.SubscriptionID `json:"id"`
	TenantID               string            `json:"tenant_id"`
	ProviderSubscriptionID string            `json:"provider_subscription_id"`
	ProviderCustomerID     string            `json:"provider_customer_id"`
	Status                 Status            `json:"status"`
	Quantity               int               `json:"quantity"`
	CurrentPeriodStart     time.Time         `json:"current_period_start"`
	CurrentPeriodEnd       time.Time         `json:"current_period_end"`
}

// Validate checks the structural invariants of the record.
func (s *Subscription) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("subscription: missing tenant_id")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("subscription: invalid status %q", s.Status)
	}
	if s.Quantity < 1 {
		return fmt.Errorf("subscription: quantity %d < 1", s.Quantity)
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return fmt.Errorf("subscription: period end %v not after start %v",
			s.CurrentPeriodEnd, s.CurrentPeriodStart)
	}
	return nil
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
