package entitle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/notify"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/seat"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
)

// Engine is the entitlement reconciliation engine. It applies billing
// provider lifecycle events to per-tenant entitlement state exactly once
// per event identifier.
//
// The engine holds no cross-request state: every Process call runs inside
// one per-tenant store transaction and leaves nothing behind but the
// committed rows.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	notifier notify.Notifier

	// Configuration
	lockTimeout time.Duration
	policy      member.DeactivationPolicy
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		notifier:    &notify.LogNotifier{},
		lockTimeout: 5 * time.Second,
		policy:      member.NewestFirst,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithNotifier sets the collaborator that delivers owner notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithLockTimeout bounds how long a dispatch waits for the per-tenant lock
// before failing with ErrLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTimeout = d
	}
}

// WithDeactivationPolicy overrides the member deactivation order used when
// the seat count shrinks. The default is member.NewestFirst.
func WithDeactivationPolicy(p member.DeactivationPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("entitle engine started",
		"lock_timeout", e.lockTimeout,
	)

	return nil
}

// Stop shuts down the Engine.
func (e *Engine) Stop() error {
	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Result reports how a dispatch resolved and what it produced.
type Result struct {
	Outcome audit.Outcome

	// Subscription is the post-reconciliation subscription state for
	// applied events, or the stored state for stale skips. Nil for
	// duplicates and unknown types.
	Subscription   *subscription.Subscription
	SeatAllocation *seat.Allocation

	// Notifications created by the event (trial-ending only), already
	// handed to the Notifier.
	Notifications []*notify.Notification

	MembersDeactivated int
	MembersReactivated int
}

// Process applies one provider event to the tenant's entitlement state.
//
// Duplicates, stale events and unknown event types all resolve to a nil
// error so the provider stops redelivering them; the Result outcome tells
// them apart. Only invariant violations, lock timeouts and store failures
// return an error, and for those the event is left unrecorded so a retry
// can succeed.
func (e *Engine) Process(ctx context.Context, ev *event.Event) (*Result, error) {
	if ev == nil {
		return nil, ErrInvalidEvent
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	started := time.Now()

	tx, err := e.store.Begin(ctx, ev.TenantID, e.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			e.appendLog(ctx, ev, id.Nil, audit.OutcomeFailed, "tenant lock timeout")
			return nil, fmt.Errorf("begin tenant %s: %w", ev.TenantID, err)
		}
		e.appendLog(ctx, ev, id.Nil, audit.OutcomeFailed, err.Error())
		return nil, fmt.Errorf("begin tenant %s: %v: %w", ev.TenantID, err, ErrStoreUnavailable)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	processed, err := tx.IsProcessed(ctx, ev.ID)
	if err != nil {
		return nil, e.storeFailure(ctx, tx, ev, "ledger check", err)
	}
	if processed {
		_ = tx.Rollback(ctx) //nolint:errcheck // releasing early, nothing staged
		e.appendLog(ctx, ev, id.Nil, audit.OutcomeDuplicate, "")
		e.plugins.EmitEventSkipped(ctx, ev, string(audit.OutcomeDuplicate))
		return &Result{Outcome: audit.OutcomeDuplicate}, nil
	}

	// Unknown event types are recorded and acknowledged without touching
	// state, keeping ingestion forward-compatible with new provider types.
	if !ev.Type.Known() {
		if err := e.finish(ctx, tx, ev); err != nil {
			return nil, e.storeFailure(ctx, tx, ev, "record unknown type", err)
		}
		e.appendLog(ctx, ev, id.Nil, audit.OutcomeUnknownType, string(ev.Type))
		e.plugins.EmitEventSkipped(ctx, ev, string(audit.OutcomeUnknownType))
		return &Result{Outcome: audit.OutcomeUnknownType}, nil
	}

	st, err := e.loadState(ctx, tx)
	if err != nil {
		return nil, e.storeFailure(ctx, tx, ev, "load state", err)
	}

	// Staleness guard: the stored UpdatedAt is the provider-side
	// occurrence time of the last applied event. Anything not strictly
	// newer is an out-of-order redelivery and is discarded, but still
	// recorded so the provider stops retrying it.
	if st.sub != nil && !ev.OccurredAt.After(st.sub.UpdatedAt) {
		if err := e.finish(ctx, tx, ev); err != nil {
			return nil, e.storeFailure(ctx, tx, ev, "record stale event", err)
		}
		detail := fmt.Sprintf("event occurred %s, state version %s",
			ev.OccurredAt.UTC().Format(time.RFC3339), st.sub.UpdatedAt.UTC().Format(time.RFC3339))
		e.appendLog(ctx, ev, st.sub.ID, audit.OutcomeStaleSkip, detail)
		e.plugins.EmitEventSkipped(ctx, ev, string(audit.OutcomeStaleSkip))
		return &Result{Outcome: audit.OutcomeStaleSkip, Subscription: st.sub}, nil
	}

	oldStatus := subscription.Status("")
	if st.sub != nil {
		oldStatus = st.sub.Status
	}

	handle := handlers[ev.Type]
	if err := handle(st, ev, e.policy); err != nil {
		return nil, e.reconcileFailure(ctx, tx, ev, st, err)
	}
	if err := st.validate(); err != nil {
		return nil, e.reconcileFailure(ctx, tx, ev, st, err)
	}

	if st.subChanged {
		st.sub.UpdatedAt = ev.OccurredAt
		if err := tx.PutSubscription(ctx, st.sub); err != nil {
			return nil, e.storeFailure(ctx, tx, ev, "put subscription", err)
		}
	}
	if st.seatsChanged {
		st.seats.Touch()
		if err := tx.PutSeatAllocation(ctx, st.seats); err != nil {
			return nil, e.storeFailure(ctx, tx, ev, "put seat allocation", err)
		}
	}
	if st.membersChanged {
		if err := tx.PutMembers(ctx, st.members); err != nil {
			return nil, e.storeFailure(ctx, tx, ev, "put members", err)
		}
	}

	if err := e.finish(ctx, tx, ev); err != nil {
		return nil, e.storeFailure(ctx, tx, ev, "commit", err)
	}

	e.deliver(ctx, st.notifications)
	e.emitApplied(ctx, ev, st, oldStatus, time.Since(started))

	subID := id.Nil
	if st.sub != nil {
		subID = st.sub.ID
	}
	e.appendLog(ctx, ev, subID, audit.OutcomeApplied, "")

	return &Result{
		Outcome:            audit.OutcomeApplied,
		Subscription:       st.sub,
		SeatAllocation:     st.seats,
		Notifications:      st.notifications,
		MembersDeactivated: st.deactivated,
		MembersReactivated: st.reactivated,
	}, nil
}

// EventLog returns the audit trail for a tenant, newest first.
func (e *Engine) EventLog(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Entry, error) {
	return e.store.EventLog(ctx, tenantID, opts)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// finish marks the event processed and commits the transaction.
func (e *Engine) finish(ctx context.Context, tx store.Tx, ev *event.Event) error {
	if err := tx.MarkProcessed(ctx, ev.ID, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (e *Engine) loadState(ctx context.Context, tx store.Tx) (*state, error) {
	sub, err := tx.Subscription(ctx)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	seats, err := tx.SeatAllocation(ctx)
	if err != nil && !errors.Is(err, ErrSeatsNotFound) {
		return nil, err
	}
	members, err := tx.Members(ctx)
	if err != nil {
		return nil, err
	}
	return &state{sub: sub, seats: seats, members: members}, nil
}

// storeFailure aborts the transaction and surfaces a retryable store error.
// The event stays unrecorded so the provider redelivers it.
func (e *Engine) storeFailure(ctx context.Context, tx store.Tx, ev *event.Event, op string, err error) error {
	_ = tx.Rollback(ctx) //nolint:errcheck // already failing
	e.appendLog(ctx, ev, id.Nil, audit.OutcomeFailed, fmt.Sprintf("%s: %v", op, err))
	return fmt.Errorf("%s: %v: %w", op, err, ErrStoreUnavailable)
}

// reconcileFailure aborts the transaction for an invariant violation. The
// event stays unrecorded: this input needs investigation and a retry may
// find repaired state.
func (e *Engine) reconcileFailure(ctx context.Context, tx store.Tx, ev *event.Event, st *state, err error) error {
	_ = tx.Rollback(ctx) //nolint:errcheck // already failing

	subID := id.Nil
	if st.sub != nil {
		subID = st.sub.ID
	}
	e.appendLog(ctx, ev, subID, audit.OutcomeFailed, err.Error())
	e.plugins.EmitReconcileFailed(ctx, ev, err)

	return fmt.Errorf("reconcile %s: %w", ev.Type, err)
}

// appendLog writes one audit entry, best-effort. Audit completeness is a
// secondary guarantee; a failed append never blocks the dispatch.
func (e *Engine) appendLog(ctx context.Context, ev *event.Event, subID id.SubscriptionID, outcome audit.Outcome, detail string) {
	entry := &audit.Entry{
		ID:             id.NewLogEntryID(),
		EventID:        ev.ID,
		EventType:      string(ev.Type),
		TenantID:       ev.TenantID,
		SubscriptionID: subID,
		Outcome:        outcome,
		Detail:         detail,
		CreatedAt:      time.Now().UTC(),
	}

	if err := e.store.AppendEventLog(ctx, entry); err != nil {
		e.logger.Warn("event log append failed",
			"event_id", ev.ID,
			"outcome", outcome,
			"error", err,
		)
	}
}

// deliver hands created notifications to the notifier, best-effort.
func (e *Engine) deliver(ctx context.Context, notifications []*notify.Notification) {
	for _, n := range notifications {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("notification delivery failed",
				"notification_id", n.ID,
				"tenant_id", n.TenantID,
				"kind", n.Kind,
				"error", err,
			)
		}
		e.plugins.EmitTrialWillEnd(ctx, n)
	}
}

func (e *Engine) emitApplied(ctx context.Context, ev *event.Event, st *state, oldStatus subscription.Status, elapsed time.Duration) {
	e.plugins.EmitEventApplied(ctx, ev, elapsed)

	if st.subChanged && st.sub != nil && st.sub.Status != oldStatus {
		e.plugins.EmitSubscriptionChanged(ctx, st.sub, string(oldStatus), string(st.sub.Status))
	}
	if st.seatsChanged && st.seats != nil {
		e.plugins.EmitSeatsChanged(ctx, ev.TenantID, st.seats.PurchasedSeats, st.seats.UsedSeats)
	}
	if st.deactivated > 0 || st.reactivated > 0 {
		e.plugins.EmitMembersReconciled(ctx, ev.TenantID, st.deactivated, st.reactivated)
	}

	e.logger.Debug("event applied",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"tenant_id", ev.TenantID,
		"deactivated", st.deactivated,
		"reactivated", st.reactivated,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}
