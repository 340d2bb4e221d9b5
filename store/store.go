// Package store defines the persistence contract for the reconciliation
// engine.
//
// A Store hands out per-tenant transactions: Begin acquires an exclusive
// per-tenant lock and returns a Tx scoped to that tenant. Everything the
// engine reads and writes while reconciling one event — subscription, seat
// allocation, members, and the idempotency marker — goes through that Tx, so
// the whole reconciliation commits or rolls back as one unit. Events for
// different tenants proceed fully in parallel.
//
// The audit event log sits outside the transaction on purpose: it is
// best-effort and must never block or poison a reconciliation.
package store

import (
	"context"
	"time"

	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/seat"
	"github.com/xraph/entitle/subscription"
)

// Tx is one per-tenant reconciliation transaction. Reads return deep copies;
// nothing is visible to other transactions until Commit. Rollback after
// Commit is a no-op, so callers can always defer it.
type Tx interface {
	// TenantID returns the tenant this transaction is locked to.
	TenantID() string

	// Subscription returns the tenant's subscription or
	// entitle.ErrSubscriptionNotFound.
	Subscription(ctx context.Context) (*subscription.Subscription, error)

	// SeatAllocation returns the current (most recent) allocation row or
	// entitle.ErrSeatsNotFound.
	SeatAllocation(ctx context.Context) (*seat.Allocation, error)

	// Members returns all members of the tenant.
	Members(ctx context.Context) ([]*member.Member, error)

	PutSubscription(ctx context.Context, s *subscription.Subscription) error
	PutSeatAllocation(ctx context.Context, a *seat.Allocation) error
	PutMembers(ctx context.Context, members []*member.Member) error

	// IsProcessed reports whether the event identifier was already applied.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event identifier as applied. It must be
	// staged in this transaction: an aborted transaction leaves no marker.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence interface for the reconciliation engine.
type Store interface {
	// Begin opens a per-tenant transaction, waiting up to lockTimeout for
	// the tenant's exclusive lock. Returns ErrLockTimeout when the lock
	// cannot be had in time.
	Begin(ctx context.Context, tenantID string, lockTimeout time.Duration) (Tx, error)

	// AppendEventLog appends one audit entry. Non-transactional,
	// best-effort; callers tolerate failure.
	AppendEventLog(ctx context.Context, entry *audit.Entry) error

	// EventLog returns audit entries for a tenant, newest first.
	EventLog(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ProcessedEvent is the idempotency ledger row: existence alone answers
// "was this event already applied". Append-only, never updated.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	ProcessedAt time.Time `json:"processed_at"`
}
