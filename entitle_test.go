package entitle_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/notify"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/types"
)

var (
	baseTime    = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	periodStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

func newEngine(t *testing.T, opts ...entitle.Option) (*entitle.Engine, *memory.Store) {
	t.Helper()

	s := memory.New()
	e := entitle.New(s, append([]entitle.Option{entitle.WithLogger(slog.Default())}, opts...)...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Stop() })

	return e, s
}

func checkoutEvent(eventID, tenantID string, quantity int, at time.Time) *event.Event {
	return &event.Event{
		ID:         eventID,
		Type:       event.TypeCheckoutCompleted,
		TenantID:   tenantID,
		OccurredAt: at,
		Payload: event.Payload{
			ProviderSubscriptionID: "sub_prov_1",
			ProviderCustomerID:     "cus_prov_1",
			Quantity:               quantity,
			PeriodStart:            periodStart,
			PeriodEnd:              periodEnd,
		},
	}
}

// seedMembers installs an owner plus n active non-owner members, joined on
// consecutive days so deactivation order is deterministic.
func seedMembers(t *testing.T, s *memory.Store, tenantID string, n int) []*member.Member {
	t.Helper()

	joined := baseTime.AddDate(0, 0, -30)
	members := []*member.Member{{
		Entity:   types.NewEntity(),
		ID:       id.NewMemberID(),
		TenantID: tenantID,
		UserID:   "owner",
		Role:     member.RoleOwner,
		Status:   member.StatusActive,
		JoinedAt: joined,
	}}
	for i := 1; i <= n; i++ {
		members = append(members, &member.Member{
			Entity:   types.NewEntity(),
			ID:       id.NewMemberID(),
			TenantID: tenantID,
			UserID:   "u" + string(rune('0'+i)),
			Role:     member.RoleMember,
			Status:   member.StatusActive,
			JoinedAt: joined.AddDate(0, 0, i),
		})
	}

	ctx := context.Background()
	tx, err := s.Begin(ctx, tenantID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutMembers(ctx, members); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	return members
}

func activeUserIDs(t *testing.T, s *memory.Store, tenantID string) []string {
	t.Helper()

	ctx := context.Background()
	tx, err := s.Begin(ctx, tenantID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)

	members, err := tx.Members(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, m := range members {
		if !m.IsOwner() && m.IsActive() {
			out = append(out, m.UserID)
		}
	}
	return out
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	res, err := e.Process(ctx, checkoutEvent("evt_checkout", "tenant-a", 5, baseTime))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != audit.OutcomeApplied {
		t.Fatalf("checkout outcome = %s, want applied", res.Outcome)
	}
	if res.Subscription.Status != "active" || res.Subscription.Quantity != 5 {
		t.Fatalf("subscription = %s q=%d, want active q=5", res.Subscription.Status, res.Subscription.Quantity)
	}
	if res.SeatAllocation.PurchasedSeats != 5 || res.SeatAllocation.UsedSeats != 1 {
		t.Fatalf("seats = %d/%d, want 1/5", res.SeatAllocation.UsedSeats, res.SeatAllocation.PurchasedSeats)
	}
	if !res.SeatAllocation.AutoRenew {
		t.Error("fresh allocation should auto-renew")
	}
	firstAllocation := res.SeatAllocation.ID

	seedMembers(t, s, "tenant-a", 4)

	t.Run("InvoicePaidAdvancesPeriod", func(t *testing.T) {
		res, err := e.Process(ctx, &event.Event{
			ID:         "evt_invoice_1",
			Type:       event.TypeInvoicePaymentSucceeded,
			TenantID:   "tenant-a",
			OccurredAt: baseTime.Add(time.Hour),
			Payload: event.Payload{
				PeriodStart: periodEnd,
				PeriodEnd:   periodEnd.AddDate(0, 1, 0),
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != audit.OutcomeApplied {
			t.Fatalf("outcome = %s, want applied", res.Outcome)
		}
		if res.SeatAllocation.ID.String() == firstAllocation.String() {
			t.Error("period advance should supersede the allocation row")
		}
		if !res.SeatAllocation.PeriodStart.Equal(periodEnd) {
			t.Errorf("new period start = %v, want %v", res.SeatAllocation.PeriodStart, periodEnd)
		}
		if !res.Subscription.CurrentPeriodStart.Equal(periodEnd) {
			t.Errorf("subscription period not advanced: %v", res.Subscription.CurrentPeriodStart)
		}
	})

	t.Run("QuantityShrinkDeactivatesNewest", func(t *testing.T) {
		res, err := e.Process(ctx, &event.Event{
			ID:         "evt_update_1",
			Type:       event.TypeSubscriptionUpdated,
			TenantID:   "tenant-a",
			OccurredAt: baseTime.Add(2 * time.Hour),
			Payload:    event.Payload{Quantity: 2},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != audit.OutcomeApplied {
			t.Fatalf("outcome = %s, want applied", res.Outcome)
		}
		if res.MembersDeactivated != 2 || res.MembersReactivated != 0 {
			t.Fatalf("reconcile = -%d/+%d, want -2/+0", res.MembersDeactivated, res.MembersReactivated)
		}
		if res.SeatAllocation.PurchasedSeats != 2 || res.SeatAllocation.UsedSeats != 2 {
			t.Fatalf("seats = %d/%d, want 2/2", res.SeatAllocation.UsedSeats, res.SeatAllocation.PurchasedSeats)
		}

		got := activeUserIDs(t, s, "tenant-a")
		if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
			t.Errorf("active members = %v, want [u1 u2] (newest joiners lose seats)", got)
		}
	})

	t.Run("InvoiceFailedMarksPastDue", func(t *testing.T) {
		res, err := e.Process(ctx, &event.Event{
			ID:         "evt_invoice_fail",
			Type:       event.TypeInvoicePaymentFailed,
			TenantID:   "tenant-a",
			OccurredAt: baseTime.Add(3 * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Subscription.Status != "past_due" {
			t.Fatalf("status = %s, want past_due", res.Subscription.Status)
		}
		// Past due alone does not cost anyone a seat.
		if got := activeUserIDs(t, s, "tenant-a"); len(got) != 2 {
			t.Errorf("active members = %v, want 2 kept", got)
		}
	})

	t.Run("PauseFreesSeats", func(t *testing.T) {
		res, err := e.Process(ctx, &event.Event{
			ID:         "evt_pause",
			Type:       event.TypeSubscriptionPaused,
			TenantID:   "tenant-a",
			OccurredAt: baseTime.Add(4 * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Subscription.Status != "paused" {
			t.Fatalf("status = %s, want paused", res.Subscription.Status)
		}
		if res.MembersDeactivated != 2 {
			t.Fatalf("deactivated = %d, want 2", res.MembersDeactivated)
		}
		// Owner still occupies the first seat.
		if res.SeatAllocation.UsedSeats != 1 {
			t.Errorf("used seats = %d, want 1", res.SeatAllocation.UsedSeats)
		}
	})

	t.Run("ResumeRestoresEarliestJoined", func(t *testing.T) {
		res, err := e.Process(ctx, &event.Event{
			ID:         "evt_resume",
			Type:       event.TypeSubscriptionResumed,
			TenantID:   "tenant-a",
			OccurredAt: baseTime.Add(5 * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Subscription.Status != "active" {
			t.Fatalf("status = %s, want active", res.Subscription.Status)
		}
		if res.MembersReactivated != 2 {
			t.Fatalf("reactivated = %d, want 2", res.MembersReactivated)
		}

		got := activeUserIDs(t, s, "tenant-a")
		if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
			t.Errorf("active members = %v, want [u1 u2] restored", got)
		}
	})

	t.Run("DeleteCancelsAndClearsSeats", func(t *testing.T) {
		res, err := e.Process(ctx, &event.Event{
			ID:         "evt_delete",
			Type:       event.TypeSubscriptionDeleted,
			TenantID:   "tenant-a",
			OccurredAt: baseTime.Add(6 * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Subscription.Status != "cancelled" {
			t.Fatalf("status = %s, want cancelled", res.Subscription.Status)
		}
		if res.MembersDeactivated != 2 {
			t.Fatalf("deactivated = %d, want 2", res.MembersDeactivated)
		}
		if got := activeUserIDs(t, s, "tenant-a"); len(got) != 0 {
			t.Errorf("active members = %v, want none", got)
		}
	})
}

func TestDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	ev := checkoutEvent("evt_dup", "tenant-a", 3, baseTime)
	if _, err := e.Process(ctx, ev); err != nil {
		t.Fatal(err)
	}

	res, err := e.Process(ctx, ev)
	if err != nil {
		t.Fatalf("duplicate returned error: %v", err)
	}
	if res.Outcome != audit.OutcomeDuplicate {
		t.Fatalf("outcome = %s, want duplicate", res.Outcome)
	}
	if res.Subscription != nil {
		t.Error("duplicate result should carry no state")
	}
}

func TestStaleEvent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	if _, err := e.Process(ctx, checkoutEvent("evt_new", "tenant-a", 3, baseTime)); err != nil {
		t.Fatal(err)
	}

	// Distinct event ID, older occurrence time: out-of-order redelivery.
	stale := &event.Event{
		ID:         "evt_old",
		Type:       event.TypeInvoicePaymentFailed,
		TenantID:   "tenant-a",
		OccurredAt: baseTime.Add(-time.Hour),
	}

	res, err := e.Process(ctx, stale)
	if err != nil {
		t.Fatalf("stale event returned error: %v", err)
	}
	if res.Outcome != audit.OutcomeStaleSkip {
		t.Fatalf("outcome = %s, want stale-skip", res.Outcome)
	}
	if res.Subscription.Status != "active" {
		t.Errorf("stale event mutated status to %s", res.Subscription.Status)
	}

	// The skip was recorded: a redelivery resolves as duplicate.
	res, err = e.Process(ctx, stale)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != audit.OutcomeDuplicate {
		t.Fatalf("redelivered stale outcome = %s, want duplicate", res.Outcome)
	}
}

func TestEqualTimestampIsStale(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	if _, err := e.Process(ctx, checkoutEvent("evt_a", "tenant-a", 3, baseTime)); err != nil {
		t.Fatal(err)
	}

	res, err := e.Process(ctx, &event.Event{
		ID:         "evt_b",
		Type:       event.TypeInvoicePaymentFailed,
		TenantID:   "tenant-a",
		OccurredAt: baseTime, // not strictly newer
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != audit.OutcomeStaleSkip {
		t.Fatalf("outcome = %s, want stale-skip for equal timestamps", res.Outcome)
	}
}

func TestUnknownEventType(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	ev := &event.Event{
		ID:         "evt_unknown",
		Type:       "customer.discount.created",
		TenantID:   "tenant-a",
		OccurredAt: baseTime,
	}

	res, err := e.Process(ctx, ev)
	if err != nil {
		t.Fatalf("unknown type returned error: %v", err)
	}
	if res.Outcome != audit.OutcomeUnknownType {
		t.Fatalf("outcome = %s, want unknown-type", res.Outcome)
	}

	// Acknowledged and recorded so the provider stops redelivering.
	res, err = e.Process(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != audit.OutcomeDuplicate {
		t.Fatalf("redelivery outcome = %s, want duplicate", res.Outcome)
	}
}

func TestOrderIndependence(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	update := &event.Event{
		ID:         "evt_update",
		Type:       event.TypeSubscriptionUpdated,
		TenantID:   "tenant-a",
		OccurredAt: baseTime.Add(time.Hour),
		Payload:    event.Payload{Quantity: 2},
	}

	// Update arrives before the checkout that establishes the subscription.
	_, err := e.Process(ctx, update)
	if !errors.Is(err, entitle.ErrSubscriptionNotFound) {
		t.Fatalf("early update err = %v, want ErrSubscriptionNotFound", err)
	}
	if !entitle.IsRetryable(err) {
		t.Fatal("early update should be retryable")
	}

	if _, err := e.Process(ctx, checkoutEvent("evt_checkout", "tenant-a", 5, baseTime)); err != nil {
		t.Fatal(err)
	}

	// Redelivery of the update now applies: same terminal state as the
	// in-order delivery would have produced.
	res, err := e.Process(ctx, update)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != audit.OutcomeApplied {
		t.Fatalf("redelivered update outcome = %s, want applied", res.Outcome)
	}
	if res.Subscription.Quantity != 2 || res.SeatAllocation.PurchasedSeats != 2 {
		t.Fatalf("quantity = %d seats = %d, want 2/2", res.Subscription.Quantity, res.SeatAllocation.PurchasedSeats)
	}
}

func TestTrialWillEnd(t *testing.T) {
	ctx := context.Background()

	var delivered []*notify.Notification
	e, s := newEngine(t, entitle.WithNotifier(notify.NotifierFunc(
		func(_ context.Context, n *notify.Notification) error {
			delivered = append(delivered, n)
			return nil
		})))

	checkout := checkoutEvent("evt_checkout", "tenant-a", 3, baseTime)
	checkout.Payload.Status = "trialing"
	if _, err := e.Process(ctx, checkout); err != nil {
		t.Fatal(err)
	}
	seedMembers(t, s, "tenant-a", 1)

	trialEnd := baseTime.AddDate(0, 0, 14)
	res, err := e.Process(ctx, &event.Event{
		ID:         "evt_trial",
		Type:       event.TypeTrialWillEnd,
		TenantID:   "tenant-a",
		OccurredAt: baseTime.Add(10 * time.Hour),
		Payload:    event.Payload{TrialEnd: trialEnd},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != audit.OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", res.Outcome)
	}
	if len(res.Notifications) != 1 || len(delivered) != 1 {
		t.Fatalf("notifications = %d delivered = %d, want 1/1", len(res.Notifications), len(delivered))
	}
	n := delivered[0]
	if n.Kind != notify.KindTrialEnding || n.TenantID != "tenant-a" {
		t.Errorf("notification = %s/%s", n.Kind, n.TenantID)
	}
	if len(n.MemberIDs) != 1 {
		t.Errorf("recipients = %d, want the single owner", len(n.MemberIDs))
	}
	if !n.TrialEnd.Equal(trialEnd) {
		t.Errorf("trial end = %v, want %v", n.TrialEnd, trialEnd)
	}
	// Handlers never read the wall clock: the notification is stamped
	// with the event's own occurrence time.
	if !n.CreatedAt.Equal(baseTime.Add(10 * time.Hour)) {
		t.Errorf("created at = %v, want the event occurrence time", n.CreatedAt)
	}

	t.Run("DoesNotAdvanceVersionMarker", func(t *testing.T) {
		// An update that occurred after checkout but before the trial
		// notice still applies: the notice left the marker alone.
		res, err := e.Process(ctx, &event.Event{
			ID:         "evt_update",
			Type:       event.TypeSubscriptionUpdated,
			TenantID:   "tenant-a",
			OccurredAt: baseTime.Add(time.Hour),
			Payload:    event.Payload{Quantity: 2},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != audit.OutcomeApplied {
			t.Fatalf("outcome = %s, want applied", res.Outcome)
		}
	})

	t.Run("NoOwnerFails", func(t *testing.T) {
		e2, _ := newEngine(t)
		if _, err := e2.Process(ctx, checkoutEvent("evt_checkout", "tenant-b", 3, baseTime)); err != nil {
			t.Fatal(err)
		}

		_, err := e2.Process(ctx, &event.Event{
			ID:         "evt_trial",
			Type:       event.TypeTrialWillEnd,
			TenantID:   "tenant-b",
			OccurredAt: baseTime.Add(time.Hour),
		})
		if !errors.Is(err, entitle.ErrNoOwner) {
			t.Fatalf("err = %v, want ErrNoOwner", err)
		}
	})
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := entitle.New(s, entitle.WithLockTimeout(20*time.Millisecond))
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Hold the tenant lock so the dispatch cannot begin.
	tx, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)

	_, err = e.Process(ctx, checkoutEvent("evt_checkout", "tenant-a", 3, baseTime))
	if !errors.Is(err, entitle.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	if !entitle.IsRetryable(err) {
		t.Fatal("lock timeout should be retryable")
	}
}

func TestInvariantViolationLeavesEventUnrecorded(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	bad := checkoutEvent("evt_retry", "tenant-a", 0, baseTime)
	_, err := e.Process(ctx, bad)
	if !errors.Is(err, entitle.ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if !entitle.IsRetryable(err) {
		t.Fatal("invariant violation should be retryable")
	}

	// Same event ID with repaired payload applies: the failed attempt was
	// never recorded in the idempotency ledger.
	good := checkoutEvent("evt_retry", "tenant-a", 3, baseTime)
	res, err := e.Process(ctx, good)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != audit.OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", res.Outcome)
	}
}

func TestInvalidEvent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	if _, err := e.Process(ctx, nil); !errors.Is(err, entitle.ErrInvalidEvent) {
		t.Fatalf("nil event err = %v, want ErrInvalidEvent", err)
	}

	_, err := e.Process(ctx, &event.Event{Type: event.TypeCheckoutCompleted})
	if !errors.Is(err, entitle.ErrInvalidEvent) {
		t.Fatalf("empty envelope err = %v, want ErrInvalidEvent", err)
	}
}

func TestEventLogTrail(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	ev := checkoutEvent("evt_1", "tenant-a", 3, baseTime)
	if _, err := e.Process(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Process(ctx, ev); err != nil {
		t.Fatal(err)
	}

	entries, err := e.EventLog(ctx, "tenant-a", audit.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want one per delivery attempt", len(entries))
	}
	if entries[0].Outcome != audit.OutcomeDuplicate || entries[1].Outcome != audit.OutcomeApplied {
		t.Errorf("trail = [%s %s], want newest-first [duplicate applied]",
			entries[0].Outcome, entries[1].Outcome)
	}

	dupes, err := e.EventLog(ctx, "tenant-a", audit.ListOpts{Outcome: audit.OutcomeDuplicate})
	if err != nil {
		t.Fatal(err)
	}
	if len(dupes) != 1 {
		t.Errorf("duplicate entries = %d, want 1", len(dupes))
	}
}
