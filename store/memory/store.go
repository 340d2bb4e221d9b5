// Package memory provides the in-memory reference store.
//
// Commit swaps the staged write-set into the shared state under the store
// mutex, so a transaction is atomic: concurrent readers see either none or
// all of its writes. Used by tests and as the default store for the Forge
// extension.
package memory

import (
	"context"
	"sync"
	"time"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/seat"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
)

// compile-time interface check
var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*Tx)(nil)
)

type tenantState struct {
	sub *subscription.Subscription
	// seat allocation history, newest row last
	seats   []*seat.Allocation
	members []*member.Member
}

type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState

	// Idempotency ledger
	processed map[string]time.Time

	// Audit event log, append-only, outside any transaction
	logMu    sync.Mutex
	eventLog []*audit.Entry

	locks *store.TenantLocks
}

func New() *Store {
	return &Store{
		tenants:   make(map[string]*tenantState),
		processed: make(map[string]time.Time),
		locks:     store.NewTenantLocks(),
	}
}

func (s *Store) tenant(tenantID string) *tenantState {
	ts, ok := s.tenants[tenantID]
	if !ok {
		ts = &tenantState{}
		s.tenants[tenantID] = ts
	}
	return ts
}

// Begin acquires the tenant lock and opens a transaction over a snapshot of
// the tenant's state.
func (s *Store) Begin(ctx context.Context, tenantID string, lockTimeout time.Duration) (store.Tx, error) {
	release, err := s.locks.Acquire(ctx, tenantID, lockTimeout)
	if err != nil {
		return nil, err
	}

	return &Tx{store: s, tenantID: tenantID, release: release}, nil
}

// AppendEventLog appends one audit entry.
func (s *Store) AppendEventLog(_ context.Context, entry *audit.Entry) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	cp := *entry
	if cp.ID.IsNil() {
		cp.ID = id.NewLogEntryID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.eventLog = append(s.eventLog, &cp)
	return nil
}

// EventLog returns audit entries for a tenant, newest first.
func (s *Store) EventLog(_ context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	result := make([]*audit.Entry, 0)
	for i := len(s.eventLog) - 1; i >= 0; i-- {
		e := s.eventLog[i]
		if e.TenantID != tenantID {
			continue
		}
		if opts.EventID != "" && e.EventID != opts.EventID {
			continue
		}
		if opts.Outcome != "" && e.Outcome != opts.Outcome {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error { return nil }
func (s *Store) Ping(_ context.Context) error    { return nil }
func (s *Store) Close() error                    { return nil }

// ──────────────────────────────────────────────────
// Transaction
// ──────────────────────────────────────────────────

// Tx stages writes against a snapshot; Commit applies them under the store
// mutex in one step.
type Tx struct {
	store    *Store
	tenantID string
	release  func()
	done     bool

	stagedSub       *subscription.Subscription
	stagedSeats     *seat.Allocation
	stagedMembers   []*member.Member
	stagedProcessed map[string]time.Time
}

func (t *Tx) TenantID() string { return t.tenantID }

func (t *Tx) Subscription(_ context.Context) (*subscription.Subscription, error) {
	if t.stagedSub != nil {
		return t.stagedSub.Clone(), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	ts, ok := t.store.tenants[t.tenantID]
	if !ok || ts.sub == nil {
		return nil, entitle.ErrSubscriptionNotFound
	}
	return ts.sub.Clone(), nil
}

func (t *Tx) SeatAllocation(_ context.Context) (*seat.Allocation, error) {
	if t.stagedSeats != nil {
		return t.stagedSeats.Clone(), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	ts, ok := t.store.tenants[t.tenantID]
	if !ok || len(ts.seats) == 0 {
		return nil, entitle.ErrSeatsNotFound
	}
	return ts.seats[len(ts.seats)-1].Clone(), nil
}

func (t *Tx) Members(_ context.Context) ([]*member.Member, error) {
	if t.stagedMembers != nil {
		return member.CloneAll(t.stagedMembers), nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	ts, ok := t.store.tenants[t.tenantID]
	if !ok {
		return nil, nil
	}
	return member.CloneAll(ts.members), nil
}

func (t *Tx) PutSubscription(_ context.Context, s *subscription.Subscription) error {
	t.stagedSub = s.Clone()
	return nil
}

func (t *Tx) PutSeatAllocation(_ context.Context, a *seat.Allocation) error {
	t.stagedSeats = a.Clone()
	return nil
}

func (t *Tx) PutMembers(_ context.Context, members []*member.Member) error {
	t.stagedMembers = member.CloneAll(members)
	return nil
}

func (t *Tx) IsProcessed(_ context.Context, eventID string) (bool, error) {
	if _, ok := t.stagedProcessed[eventID]; ok {
		return true, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	_, ok := t.store.processed[eventID]
	return ok, nil
}

func (t *Tx) MarkProcessed(_ context.Context, eventID string, at time.Time) error {
	if t.stagedProcessed == nil {
		t.stagedProcessed = make(map[string]time.Time, 1)
	}
	t.stagedProcessed[eventID] = at
	return nil
}

// Commit applies the staged writes atomically and releases the tenant lock.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}

	t.store.mu.Lock()
	ts := t.store.tenant(t.tenantID)

	if t.stagedSub != nil {
		ts.sub = t.stagedSub
	}
	if t.stagedSeats != nil {
		// Same row ID replaces the current allocation; a new ID
		// supersedes it and becomes current.
		if n := len(ts.seats); n > 0 && ts.seats[n-1].ID.String() == t.stagedSeats.ID.String() {
			ts.seats[n-1] = t.stagedSeats
		} else {
			ts.seats = append(ts.seats, t.stagedSeats)
		}
	}
	if t.stagedMembers != nil {
		ts.members = t.stagedMembers
	}
	for eventID, at := range t.stagedProcessed {
		t.store.processed[eventID] = at
	}
	t.store.mu.Unlock()

	t.done = true
	t.release()
	return nil
}

// Rollback discards staged writes and releases the tenant lock. Safe to call
// after Commit.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.stagedSub = nil
	t.stagedSeats = nil
	t.stagedMembers = nil
	t.stagedProcessed = nil
	t.release()
	return nil
}
