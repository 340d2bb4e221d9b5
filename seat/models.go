// Package seat defines the per-period seat allocation record.
//
// One allocation row is current per tenant per billing period. PurchasedSeats
// always mirrors the subscription quantity after a reconciliation completes;
// UsedSeats counts occupied seats, where the tenant owner occupies the first
// seat from checkout onward. When the billing period advances a fresh row
// supersedes the old one rather than mutating it.
package seat

import (
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Allocation is the seat budget for one tenant and one billing period.
type Allocation struct {
	types.Entity
	ID                     id.SeatID `json:"id"`
	TenantID               string    `json:"tenant_id"`
	PurchasedSeats         int       `json:"purchased_seats"`
	UsedSeats              int       `json:"used_seats"`
	PeriodStart            time.Time `json:"period_start"`
	PeriodEnd              time.Time `json:"period_end"`
	ProviderSubscriptionID string    `json:"provider_subscription_id,omitempty"`
	AutoRenew              bool      `json:"auto_renew"`
}

// Validate checks the structural invariants of the record.
func (a *Allocation) Validate() error {
	if a.TenantID == "" {
		return fmt.Errorf("seat: missing tenant_id")
	}
	if a.UsedSeats < 0 || a.UsedSeats > a.PurchasedSeats {
		return fmt.Errorf("seat: used %d outside [0, %d]", a.UsedSeats, a.PurchasedSeats)
	}
	if !a.PeriodEnd.After(a.PeriodStart) {
		return fmt.Errorf("seat: period end %v not after start %v", a.PeriodEnd, a.PeriodStart)
	}
	return nil
}

// Supersede returns a fresh allocation row for the next billing period,
// carrying over the seat budget. The old row is left untouched; stores keep
// it for history and treat the newest row as current.
func (a *Allocation) Supersede(periodStart, periodEnd time.Time) *Allocation {
	next := &Allocation{
		Entity:                 types.NewEntity(),
		ID:                     id.NewSeatID(),
		TenantID:               a.TenantID,
		PurchasedSeats:         a.PurchasedSeats,
		UsedSeats:              a.UsedSeats,
		PeriodStart:            periodStart,
		PeriodEnd:              periodEnd,
		ProviderSubscriptionID: a.ProviderSubscriptionID,
		AutoRenew:              a.AutoRenew,
	}
	return next
}

// Clone returns a deep copy.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
