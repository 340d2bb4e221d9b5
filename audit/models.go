// Package audit defines the append-only event log.
//
// The log is observational: one entry per dispatch attempt, duplicates
// allowed (one per delivery), written best-effort outside the reconciliation
// transaction. It is deliberately decoupled from the idempotency ledger,
// which is transactional and gap-free.
package audit

import (
	"time"

	"github.com/xraph/entitle/id"
)

// Outcome classifies how a dispatch attempt resolved.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeStaleSkip   Outcome = "stale-skip"
	OutcomeUnknownType Outcome = "unknown-type"
	OutcomeFailed      Outcome = "failed"
)

// Entry is one audit record.
type Entry struct {
	ID             id.LogEntryID     `json:"id"`
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	TenantID       string            `json:"tenant_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id,omitempty"`
	Outcome        Outcome           `json:"outcome"`
	Detail         string            `json:"detail,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ListOpts filters event log queries.
type ListOpts struct {
	EventID string
	Outcome Outcome
	Limit   int
	Offset  int
}
