// Package mongo implements the Entitle store on MongoDB via Grove ORM.
//
// Transactions are coordinated by in-process per-tenant locks: the lock
// serializes all reconciliation work for a tenant, writes are staged in
// memory and flushed on Commit ordered so that the subscription, whose
// UpdatedAt is the staleness version marker, lands after its dependent
// seat and member writes, with the idempotency marker last. A commit
// interrupted partway leaves the old version marker in place, so the
// provider's redelivery re-applies the handler and converges.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/seat"
	entitlestore "github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
)

// Collection name constants.
const (
	colSubscriptions   = "entitle_subscriptions"
	colSeatAllocations = "entitle_seat_allocations"
	colMembers         = "entitle_members"
	colProcessedEvents = "entitle_processed_events"
	colEventLog        = "entitle_event_log"
)

// compile-time interface check
var (
	_ entitlestore.Store = (*Store)(nil)
	_ entitlestore.Tx    = (*Tx)(nil)
)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db    *grove.DB
	mdb   *mongodriver.MongoDB
	locks *entitlestore.TenantLocks
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:    db,
		mdb:   mongodriver.Unwrap(db),
		locks: entitlestore.NewTenantLocks(),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all entitle collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("entitle/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(toEventLogModel(&cp)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: append event log: %w", err)
	}
	return nil
}

// EventLog returns audit entries for a tenant, newest first.
func (s *Store) EventLog(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	var models []eventLogModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.EventID != "" {
		filter["event_id"] = opts.EventID
	}
	if opts.Outcome != "" {
		filter["outcome"] = string(opts.Outcome)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("entitle/mongo: list event log: %w", err)
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

	var m subscriptionModel
	err := t.store.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": t.tenantID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (t *Tx) SeatAllocation(ctx context.Context) (*seat.Allocation, error) {
	if t.stagedSeats != nil {
		return t.stagedSeats.Clone(), nil
	}

	var m seatAllocationModel
	err := t.store.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": t.tenantID}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitle.ErrSeatsNotFound
		}
		return nil, fmt.Errorf("entitle/mongo: get seat allocation: %w", err)
	}
	return fromSeatAllocationModel(&m)
}

func (t *Tx) Members(ctx context.Context) ([]*member.Member, error) {
	if t.stagedMembers != nil {
		return member.CloneAll(t.stagedMembers), nil
	}

	var models []memberModel
	err := t.store.mdb.NewFind(&models).
		Filter(bson.M{"tenant_id": t.tenantID}).
		Sort(bson.D{{Key: "joined_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("entitle/mongo: list members: %w", err)
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

	var m processedEventModel
	err := t.store.mdb.NewFind(&m).
		Filter(bson.M{"_id": eventID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return false, nil
		}
		return false, fmt.Errorf("entitle/mongo: check processed: %w", err)
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

// Commit flushes the staged writes and releases the tenant lock.
//
// Multi-document transactions need a MongoDB replica set, so the flush
// relies on ordering instead: members and seats go first, the
// subscription second and the idempotency marker last. The subscription's
// UpdatedAt is the staleness version marker, so a commit interrupted
// before it leaves the old version in place and the provider's redelivery
// re-applies the handler over whatever landed, converging on the full
// write set.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}

	for _, m := range t.stagedMembers {
		if err := t.upsertMember(ctx, m); err != nil {
			return err
		}
	}
	if t.stagedSeats != nil {
		if err := t.upsertSeatAllocation(ctx, t.stagedSeats); err != nil {
			return err
		}
	}
	if t.stagedSub != nil {
		if err := t.upsertSubscription(ctx, t.stagedSub); err != nil {
			return err
		}
	}
	for eventID, at := range t.stagedProcessed {
		marker := &processedEventModel{EventID: eventID, TenantID: t.tenantID, ProcessedAt: at}
		_, err := t.store.mdb.NewUpdate(marker).
			Filter(bson.M{"_id": eventID}).
			SetUpdate(bson.M{"$set": bson.M{
				"_id":          eventID,
				"tenant_id":    t.tenantID,
				"processed_at": at,
			}}).
			Upsert().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("entitle/mongo: mark processed: %w", err)
		}
	}

	t.done = true
	t.release()
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

func (t *Tx) upsertSubscription(ctx context.Context, s *subscription.Subscription) error {
	m := toSubscriptionModel(s)
	_, err := t.store.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"_id":                      m.ID,
			"tenant_id":                m.TenantID,
			"provider_subscription_id": m.ProviderSubscriptionID,
			"provider_customer_id":     m.ProviderCustomerID,
			"status":                   m.Status,
			"quantity":                 m.Quantity,
			"current_period_start":     m.CurrentPeriodStart,
			"current_period_end":       m.CurrentPeriodEnd,
			"created_at":               m.CreatedAt,
			"updated_at":               m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: upsert subscription: %w", err)
	}
	return nil
}

func (t *Tx) upsertSeatAllocation(ctx context.Context, a *seat.Allocation) error {
	m := toSeatAllocationModel(a)
	_, err := t.store.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"_id":                      m.ID,
			"tenant_id":                m.TenantID,
			"provider_subscription_id": m.ProviderSubscriptionID,
			"purchased_seats":          m.PurchasedSeats,
			"used_seats":               m.UsedSeats,
			"period_start":             m.PeriodStart,
			"period_end":               m.PeriodEnd,
			"auto_renew":               m.AutoRenew,
			"created_at":               m.CreatedAt,
			"updated_at":               m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: upsert seat allocation: %w", err)
	}
	return nil
}

func (t *Tx) upsertMember(ctx context.Context, mem *member.Member) error {
	m := toMemberModel(mem)
	_, err := t.store.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"_id":            m.ID,
			"tenant_id":      m.TenantID,
			"user_id":        m.UserID,
			"role":           m.Role,
			"status":         m.Status,
			"joined_at":      m.JoinedAt,
			"deactivated_at": m.DeactivatedAt,
			"created_at":     m.CreatedAt,
			"updated_at":     m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("entitle/mongo: upsert member: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all entitle collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "provider_subscription_id", Value: 1}}},
		},
		colSeatAllocations: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colMembers: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "joined_at", Value: 1}}},
		},
		colProcessedEvents: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}}},
		},
		colEventLog: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "event_id", Value: 1}}},
		},
	}
}
