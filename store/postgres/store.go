// Package postgres implements the Entitle store on PostgreSQL via Grove ORM.
//
// Transactions are coordinated by in-process per-tenant locks: the lock
// serializes all reconciliation work for a tenant, writes are staged in
// memory and flushed on Commit inside a single database transaction, so
// the subscription, seats, members and the idempotency marker land
// together or not at all. A failed commit leaves the event unrecorded and
// the version marker unchanged, so the provider's redelivery re-applies
// the handler cleanly.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the postgres migration executor
	"github.com/xraph/grove/migrate"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/seat"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
)

// compile-time interface check
var (
	_ entitlestore.Store = (*Store)(nil)
	_ entitlestore.Tx    = (*Tx)(nil)
)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db    *grove.DB
	pg    *pgdriver.PgDB
	locks *entitlestore.TenantLocks
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:    db,
		pg:    pgdriver.Unwrap(db),
		locks: entitlestore.NewTenantLocks(),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("entitle/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("entitle/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin acquires the tenant lock and opens a transaction.
func (s *Store) Begin(ctx context.Context, tenantID string, lockTimeout time.Duration) (entitlestore.Tx, error) {
	release, err := s.locks.Acquire(ctx, tenantID, lockTimeout)
	if err != nil {
		return nil, err
	}
	return &Tx{store: s, tenantID: tenantID, release: release}, nil
}

// ==================== Event log ====================

// AppendEventLog appends one audit entry, outside any transaction.
func (s *Store) AppendEventLog(ctx context.Context, entry *audit.Entry) error {
	cp := *entry
	if cp.ID.IsNil() {
		cp.ID = id.NewLogEntryID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err := s.pg.NewInsert(toEventLogModel(&cp)).Exec(ctx)
	return err
}

// EventLog returns audit entries for a tenant, newest first.
func (s *Store) EventLog(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	var models []eventLogModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)

	argIdx := 2
	if opts.EventID != "" {
		q = q.Where(fmt.Sprintf("event_id = $%d", argIdx), opts.EventID)
		argIdx++
	}
	if opts.Outcome != "" {
		q = q.Where(fmt.Sprintf("outcome = $%d", argIdx), string(opts.Outcome))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*audit.Entry, len(models))
	for i := range models {
		e, err := fromEventLogModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Transaction
// ──────────────────────────────────────────────────

// Tx stages writes in memory while holding the tenant lock; Commit flushes
// them with the idempotency marker last.
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

func (t *Tx) Subscription(ctx context.Context) (*subscription.Subscription, error) {
	if t.stagedSub != nil {
		return t.stagedSub.Clone(), nil
	}

	m := new(subscriptionModel)
	err := t.store.pg.NewSelect(m).
		Where("tenant_id = $1", t.tenantID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (t *Tx) SeatAllocation(ctx context.Context) (*seat.Allocation, error) {
	if t.stagedSeats != nil {
		return t.stagedSeats.Clone(), nil
	}

	m := new(seatAllocationModel)
	err := t.store.pg.NewSelect(m).
		Where("tenant_id = $1", t.tenantID).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitle.ErrSeatsNotFound
		}
		return nil, err
	}
	return fromSeatAllocationModel(m)
}

func (t *Tx) Members(ctx context.Context) ([]*member.Member, error) {
	if t.stagedMembers != nil {
		return member.CloneAll(t.stagedMembers), nil
	}

	var models []memberModel
	err := t.store.pg.NewSelect(&models).
		Where("tenant_id = $1", t.tenantID).
		OrderExpr("joined_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*member.Member, len(models))
	for i := range models {
		m, err := fromMemberModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = m
	}
	return result, nil
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

func (t *Tx) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if _, ok := t.stagedProcessed[eventID]; ok {
		return true, nil
	}

	m := new(processedEventModel)
	err := t.store.pg.NewSelect(m).
		Where("event_id = $1", eventID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Tx) MarkProcessed(_ context.Context, eventID string, at time.Time) error {
	if t.stagedProcessed == nil {
		t.stagedProcessed = make(map[string]time.Time, 1)
	}
	t.stagedProcessed[eventID] = at
	return nil
}

// Commit flushes the staged writes inside one database transaction and
// releases the tenant lock. Atomicity matters here: the subscription's
// UpdatedAt is the staleness version marker, and persisting it without the
// matching seats and members would make the provider's redelivery look
// stale and freeze the inconsistency in place.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}

	btx, err := t.store.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	if err := t.flush(ctx, btx); err != nil {
		_ = btx.Rollback()
		return err
	}
	if err := btx.Commit(); err != nil {
		return err
	}

	t.done = true
	t.release()
	return nil
}

func (t *Tx) flush(ctx context.Context, btx *pgdriver.PgTx) error {
	if t.stagedSub != nil {
		if err := upsertSubscription(ctx, btx, t.stagedSub); err != nil {
			return err
		}
	}
	if t.stagedSeats != nil {
		if err := upsertSeatAllocation(ctx, btx, t.stagedSeats); err != nil {
			return err
		}
	}
	for _, m := range t.stagedMembers {
		if err := upsertMember(ctx, btx, m); err != nil {
			return err
		}
	}
	for eventID, at := range t.stagedProcessed {
		marker := &processedEventModel{EventID: eventID, TenantID: t.tenantID, ProcessedAt: at}
		if _, err := btx.NewInsert(marker).
			OnConflict("(event_id) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards staged writes and releases the tenant lock. Safe to
// call after Commit.
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

// ==================== Write helpers ====================

func upsertSubscription(ctx context.Context, btx *pgdriver.PgTx, s *subscription.Subscription) error {
	m := toSubscriptionModel(s)
	res, err := btx.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		_, err = btx.NewInsert(m).Exec(ctx)
	}
	return err
}

func upsertSeatAllocation(ctx context.Context, btx *pgdriver.PgTx, a *seat.Allocation) error {
	m := toSeatAllocationModel(a)
	res, err := btx.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// New row supersedes the previous period's allocation.
		_, err = btx.NewInsert(m).Exec(ctx)
	}
	return err
}

func upsertMember(ctx context.Context, btx *pgdriver.PgTx, mem *member.Member) error {
	m := toMemberModel(mem)
	res, err := btx.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		_, err = btx.NewInsert(m).Exec(ctx)
	}
	return err
}

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
