package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/seat"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

func testSubscription(tenantID string) *subscription.Subscription {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &subscription.Subscription{
		Entity:                 types.NewEntity(),
		ID:                     id.NewSubscriptionID(),
		TenantID:               tenantID,
		ProviderSubscriptionID: "sub_prov_1",
		ProviderCustomerID:     "cus_prov_1",
		Status:                 subscription.StatusActive,
		Quantity:               5,
		CurrentPeriodStart:     start,
		CurrentPeriodEnd:       start.AddDate(0, 1, 0),
	}
}

func testAllocation(tenantID string) *seat.Allocation {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &seat.Allocation{
		Entity:         types.NewEntity(),
		ID:             id.NewSeatID(),
		TenantID:       tenantID,
		PurchasedSeats: 5,
		UsedSeats:      1,
		PeriodStart:    start,
		PeriodEnd:      start.AddDate(0, 1, 0),
		AutoRenew:      true,
	}
}

func TestTxIsolation(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	tx, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	sub := testSubscription("tenant-a")
	if err := tx.PutSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := tx.MarkProcessed(ctx, "evt_1", time.Now()); err != nil {
		t.Fatal(err)
	}

	// Staged writes are visible inside the transaction...
	if got, err := tx.Subscription(ctx); err != nil || got.TenantID != "tenant-a" {
		t.Fatalf("read staged subscription: %v, %v", got, err)
	}
	if seen, _ := tx.IsProcessed(ctx, "evt_1"); !seen {
		t.Fatal("staged marker not visible inside tx")
	}

	// ...but not outside until commit.
	tx2, err := s.Begin(ctx, "tenant-b", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback(ctx)
	if seen, _ := tx2.IsProcessed(ctx, "evt_1"); seen {
		t.Fatal("uncommitted marker visible to another tx")
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	tx3, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tx3.Rollback(ctx)

	got, err := tx3.Subscription(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != sub.ID.String() {
		t.Errorf("committed subscription id = %s, want %s", got.ID, sub.ID)
	}
	if seen, _ := tx3.IsProcessed(ctx, "evt_1"); !seen {
		t.Fatal("committed marker not visible")
	}
}

func TestTxRollback(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	tx, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutSubscription(ctx, testSubscription("tenant-a")); err != nil {
		t.Fatal(err)
	}
	if err := tx.MarkProcessed(ctx, "evt_gone", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback(ctx)

	if _, err := tx2.Subscription(ctx); !errors.Is(err, entitle.ErrSubscriptionNotFound) {
		t.Fatalf("subscription after rollback: err = %v, want ErrSubscriptionNotFound", err)
	}
	if seen, _ := tx2.IsProcessed(ctx, "evt_gone"); seen {
		t.Fatal("rolled-back marker survived")
	}
}

func TestRollbackAfterCommitIsNoop(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	tx, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutSubscription(ctx, testSubscription("tenant-a")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	tx2, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tx2.Rollback(ctx)

	if _, err := tx2.Subscription(ctx); err != nil {
		t.Fatalf("commit undone by deferred rollback: %v", err)
	}
}

func TestSeatAllocationHistory(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first := testAllocation("tenant-a")

	tx, _ := s.Begin(ctx, "tenant-a", time.Second)
	if err := tx.PutSeatAllocation(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	t.Run("SameIDReplaces", func(t *testing.T) {
		updated := first.Clone()
		updated.UsedSeats = 3

		tx, _ := s.Begin(ctx, "tenant-a", time.Second)
		if err := tx.PutSeatAllocation(ctx, updated); err != nil {
			t.Fatal(err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatal(err)
		}

		tx2, _ := s.Begin(ctx, "tenant-a", time.Second)
		defer tx2.Rollback(ctx)
		got, err := tx2.SeatAllocation(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID.String() != first.ID.String() || got.UsedSeats != 3 {
			t.Errorf("current allocation = %s used=%d, want %s used=3", got.ID, got.UsedSeats, first.ID)
		}
	})

	t.Run("NewIDSupersedes", func(t *testing.T) {
		next := first.Supersede(first.PeriodEnd, first.PeriodEnd.AddDate(0, 1, 0))

		tx, _ := s.Begin(ctx, "tenant-a", time.Second)
		if err := tx.PutSeatAllocation(ctx, next); err != nil {
			t.Fatal(err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatal(err)
		}

		tx2, _ := s.Begin(ctx, "tenant-a", time.Second)
		defer tx2.Rollback(ctx)
		got, err := tx2.SeatAllocation(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID.String() != next.ID.String() {
			t.Errorf("current allocation = %s, want superseding row %s", got.ID, next.ID)
		}
		if !got.PeriodStart.Equal(first.PeriodEnd) {
			t.Errorf("period start = %v, want %v", got.PeriodStart, first.PeriodEnd)
		}
	})
}

func TestTenantLockSerializes(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	tx, err := s.Begin(ctx, "tenant-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// Same tenant blocks until the lock frees.
	if _, err := s.Begin(ctx, "tenant-a", 20*time.Millisecond); !errors.Is(err, store.ErrLockTimeout) {
		t.Fatalf("second begin err = %v, want ErrLockTimeout", err)
	}

	// A different tenant proceeds immediately.
	other, err := s.Begin(ctx, "tenant-b", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("different tenant blocked: %v", err)
	}
	other.Rollback(ctx)

	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	// Rollback released the lock.
	tx2, err := s.Begin(ctx, "tenant-a", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("begin after rollback: %v", err)
	}
	tx2.Rollback(ctx)
}

func TestMembersRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	members := []*member.Member{
		{
			Entity:   types.NewEntity(),
			ID:       id.NewMemberID(),
			TenantID: "tenant-a",
			UserID:   "owner",
			Role:     member.RoleOwner,
			Status:   member.StatusActive,
			JoinedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	tx, _ := s.Begin(ctx, "tenant-a", time.Second)
	if err := tx.PutMembers(ctx, members); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's slice must not leak into the store.
	members[0].Status = member.StatusInactive

	tx2, _ := s.Begin(ctx, "tenant-a", time.Second)
	defer tx2.Rollback(ctx)
	got, err := tx2.Members(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != member.StatusActive {
		t.Fatalf("members = %v, want one active owner", got)
	}
}

func TestEventLog(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	entries := []*audit.Entry{
		{EventID: "evt_1", EventType: "checkout.session.completed", TenantID: "tenant-a", Outcome: audit.OutcomeApplied},
		{EventID: "evt_2", EventType: "invoice.payment_succeeded", TenantID: "tenant-a", Outcome: audit.OutcomeApplied},
		{EventID: "evt_2", EventType: "invoice.payment_succeeded", TenantID: "tenant-a", Outcome: audit.OutcomeDuplicate},
		{EventID: "evt_3", EventType: "customer.subscription.updated", TenantID: "tenant-b", Outcome: audit.OutcomeApplied},
	}
	for _, e := range entries {
		if err := s.AppendEventLog(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("NewestFirstPerTenant", func(t *testing.T) {
		got, err := s.EventLog(ctx, "tenant-a", audit.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("entries = %d, want 3", len(got))
		}
		if got[0].Outcome != audit.OutcomeDuplicate || got[2].EventID != "evt_1" {
			t.Errorf("order wrong: first=%s/%s last=%s", got[0].EventID, got[0].Outcome, got[2].EventID)
		}
		for _, e := range got {
			if e.ID.IsNil() {
				t.Error("entry id not assigned")
			}
			if e.CreatedAt.IsZero() {
				t.Error("entry created_at not assigned")
			}
		}
	})

	t.Run("FilterByEventID", func(t *testing.T) {
		got, err := s.EventLog(ctx, "tenant-a", audit.ListOpts{EventID: "evt_2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("entries = %d, want 2 (one per delivery)", len(got))
		}
	})

	t.Run("FilterByOutcome", func(t *testing.T) {
		got, err := s.EventLog(ctx, "tenant-a", audit.ListOpts{Outcome: audit.OutcomeDuplicate})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].EventID != "evt_2" {
			t.Fatalf("entries = %v, want single evt_2 duplicate", got)
		}
	})

	t.Run("LimitOffset", func(t *testing.T) {
		got, err := s.EventLog(ctx, "tenant-a", audit.ListOpts{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Outcome != audit.OutcomeApplied || got[0].EventID != "evt_2" {
			t.Fatalf("page = %v, want the second-newest entry", got)
		}
	})
}
