// Package event defines the inbound billing-provider lifecycle event
// contract.
//
// Events arrive from an already-authenticated webhook transport: signature
// verification, JSON parsing and tenant resolution all happen upstream. The
// event ID is the provider's delivery identifier and is the sole idempotency
// key; the payload carries whatever subscription fields the provider chose to
// send for that event type.
package event

import (
	"fmt"
	"time"
)

// Type is a provider lifecycle event type.
type Type string

// Supported event types. Anything else is accepted, recorded and ignored so
// new provider event types never break ingestion.
const (
	TypeCheckoutCompleted       Type = "checkout.session.completed"
	TypeInvoicePaymentSucceeded Type = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed    Type = "invoice.payment_failed"
	TypeSubscriptionUpdated     Type = "customer.subscription.updated"
	TypeSubscriptionDeleted     Type = "customer.subscription.deleted"
	TypeSubscriptionPaused      Type = "customer.subscription.paused"
	TypeSubscriptionResumed     Type = "customer.subscription.resumed"
	TypeTrialWillEnd            Type = "customer.subscription.trial_will_end"
)

// Known reports whether t maps to a reconciliation handler.
func (t Type) Known() bool {
	switch t {
	case TypeCheckoutCompleted,
		TypeInvoicePaymentSucceeded,
		TypeInvoicePaymentFailed,
		TypeSubscriptionUpdated,
		TypeSubscriptionDeleted,
		TypeSubscriptionPaused,
		TypeSubscriptionResumed,
		TypeTrialWillEnd:
		return true
	}
	return false
}

// Payload carries the provider-reported subscription fields. Fields are
// populated per event type; zero values mean "not sent".
type Payload struct {
	ProviderSubscriptionID string    `json:"provider_subscription_id,omitempty"`
	ProviderCustomerID     string    `json:"provider_customer_id,omitempty"`
	Quantity               int       `json:"quantity,omitempty"`
	Status                 string    `json:"status,omitempty"`
	PeriodStart            time.Time `json:"period_start,omitempty"`
	PeriodEnd              time.Time `json:"period_end,omitempty"`
	TrialEnd               time.Time `json:"trial_end,omitempty"`
	AutoRenew              bool      `json:"auto_renew,omitempty"`
}

// Event is one provider delivery.
type Event struct {
	ID         string    `json:"id"`        // provider event identifier, idempotency key
	Type       Type      `json:"type"`      // provider event type string
	TenantID   string    `json:"tenant_id"` // resolved by the transport layer
	OccurredAt time.Time `json:"occurred_at"`
	Payload    Payload   `json:"payload"`
}

// Validate checks the envelope fields every delivery must carry.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event: missing id")
	}
	if e.Type == "" {
		return fmt.Errorf("event: missing type")
	}
	if e.TenantID == "" {
		return fmt.Errorf("event: missing tenant_id")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("event: missing occurred_at")
	}
	return nil
}
