package member

import (
	"testing"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

func newMember(userID string, role Role, status Status, joined time.Time) *Member {
	return &Member{
		Entity:   types.NewEntity(),
		ID:       id.NewMemberID(),
		TenantID: "tenant-a",
		UserID:   userID,
		Role:     role,
		Status:   status,
		JoinedAt: joined,
	}
}

func activeNonOwnerIDs(members []*Member) []string {
	var out []string
	for _, m := range members {
		if !m.IsOwner() && m.IsActive() {
			out = append(out, m.UserID)
		}
	}
	return out
}

func TestReconcileShrink(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base.AddDate(0, 2, 0)

	t.Run("NewestJoinedLoseSeatsFirst", func(t *testing.T) {
		members := []*Member{
			newMember("owner", RoleOwner, StatusActive, base),
			newMember("u1", RoleMember, StatusActive, base.AddDate(0, 0, 1)),
			newMember("u2", RoleMember, StatusActive, base.AddDate(0, 0, 2)),
			newMember("u3", RoleMember, StatusActive, base.AddDate(0, 0, 3)),
		}

		res := Reconcile(members, 2, nil, now)

		if len(res.Deactivated) != 1 {
			t.Fatalf("deactivated = %d, want 1", len(res.Deactivated))
		}
		if res.Deactivated[0].UserID != "u3" {
			t.Errorf("deactivated %q, want u3 (newest joiner)", res.Deactivated[0].UserID)
		}
		if res.Deactivated[0].DeactivatedAt == nil || !res.Deactivated[0].DeactivatedAt.Equal(now) {
			t.Errorf("DeactivatedAt = %v, want %v", res.Deactivated[0].DeactivatedAt, now)
		}

		got := activeNonOwnerIDs(members)
		if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
			t.Errorf("active non-owners = %v, want [u1 u2]", got)
		}
	})

	t.Run("OwnersNeverDeactivated", func(t *testing.T) {
		members := []*Member{
			newMember("owner", RoleOwner, StatusActive, base.AddDate(0, 0, 9)), // newest joiner, still exempt
			newMember("u1", RoleMember, StatusActive, base),
		}

		res := Reconcile(members, 0, nil, now)

		if len(res.Deactivated) != 1 || res.Deactivated[0].UserID != "u1" {
			t.Fatalf("deactivated = %v, want just u1", res.Deactivated)
		}
		if members[0].Status != StatusActive {
			t.Errorf("owner status = %q, want active", members[0].Status)
		}
	})

	t.Run("JoinTimeTieBreaksOnUserID", func(t *testing.T) {
		members := []*Member{
			newMember("owner", RoleOwner, StatusActive, base),
			newMember("alice", RoleMember, StatusActive, base.AddDate(0, 0, 5)),
			newMember("bob", RoleMember, StatusActive, base.AddDate(0, 0, 5)),
		}

		res := Reconcile(members, 1, nil, now)

		if len(res.Deactivated) != 1 {
			t.Fatalf("deactivated = %d, want 1", len(res.Deactivated))
		}
		if res.Deactivated[0].UserID != "bob" {
			t.Errorf("deactivated %q, want bob (greater UserID on tie)", res.Deactivated[0].UserID)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		build := func() []*Member {
			return []*Member{
				newMember("owner", RoleOwner, StatusActive, base),
				newMember("u1", RoleMember, StatusActive, base.AddDate(0, 0, 1)),
				newMember("u2", RoleMember, StatusActive, base.AddDate(0, 0, 2)),
				newMember("u3", RoleMember, StatusActive, base.AddDate(0, 0, 3)),
				newMember("u4", RoleMember, StatusActive, base.AddDate(0, 0, 4)),
			}
		}

		first := Reconcile(build(), 2, nil, now)
		second := Reconcile(build(), 2, nil, now)

		if len(first.Deactivated) != len(second.Deactivated) {
			t.Fatalf("runs disagree: %d vs %d deactivated", len(first.Deactivated), len(second.Deactivated))
		}
		for i := range first.Deactivated {
			if first.Deactivated[i].UserID != second.Deactivated[i].UserID {
				t.Errorf("victim %d differs: %q vs %q", i, first.Deactivated[i].UserID, second.Deactivated[i].UserID)
			}
		}
	})
}

func TestReconcileGrow(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base.AddDate(0, 2, 0)

	t.Run("EarliestJoinedReactivatedFirst", func(t *testing.T) {
		members := []*Member{
			newMember("owner", RoleOwner, StatusActive, base),
			newMember("u1", RoleMember, StatusInactive, base.AddDate(0, 0, 1)),
			newMember("u2", RoleMember, StatusInactive, base.AddDate(0, 0, 2)),
			newMember("u3", RoleMember, StatusInactive, base.AddDate(0, 0, 3)),
		}

		res := Reconcile(members, 2, nil, now)

		if len(res.Reactivated) != 2 {
			t.Fatalf("reactivated = %d, want 2", len(res.Reactivated))
		}
		if res.Reactivated[0].UserID != "u1" || res.Reactivated[1].UserID != "u2" {
			t.Errorf("reactivated order = [%s %s], want [u1 u2]",
				res.Reactivated[0].UserID, res.Reactivated[1].UserID)
		}
		for _, m := range res.Reactivated {
			if m.DeactivatedAt != nil {
				t.Errorf("%s: DeactivatedAt not cleared", m.UserID)
			}
		}
	})

	t.Run("PendingNeverAutoActivated", func(t *testing.T) {
		members := []*Member{
			newMember("owner", RoleOwner, StatusActive, base),
			newMember("invited", RoleMember, StatusPending, base.AddDate(0, 0, 1)),
		}

		res := Reconcile(members, 5, nil, now)

		if res.Changed() {
			t.Fatalf("reconcile touched members, want no change")
		}
		if members[1].Status != StatusPending {
			t.Errorf("pending member status = %q, want pending", members[1].Status)
		}
	})

	t.Run("NoRoomNoChange", func(t *testing.T) {
		members := []*Member{
			newMember("owner", RoleOwner, StatusActive, base),
			newMember("u1", RoleMember, StatusActive, base.AddDate(0, 0, 1)),
			newMember("u2", RoleMember, StatusInactive, base.AddDate(0, 0, 2)),
		}

		res := Reconcile(members, 1, nil, now)

		if res.Changed() {
			t.Fatalf("reconcile changed members at exact capacity")
		}
	})
}

func TestReconcileIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base.AddDate(0, 2, 0)

	members := []*Member{
		newMember("owner", RoleOwner, StatusActive, base),
		newMember("u1", RoleMember, StatusActive, base.AddDate(0, 0, 1)),
		newMember("u2", RoleMember, StatusActive, base.AddDate(0, 0, 2)),
		newMember("u3", RoleMember, StatusActive, base.AddDate(0, 0, 3)),
	}

	first := Reconcile(members, 2, nil, now)
	if len(first.Deactivated) != 1 {
		t.Fatalf("first run deactivated = %d, want 1", len(first.Deactivated))
	}

	second := Reconcile(members, 2, nil, now)
	if second.Changed() {
		t.Fatalf("second run changed members, want fixed point")
	}
}

func TestOldestFirstPolicy(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base.AddDate(0, 2, 0)

	members := []*Member{
		newMember("owner", RoleOwner, StatusActive, base),
		newMember("u1", RoleMember, StatusActive, base.AddDate(0, 0, 1)),
		newMember("u2", RoleMember, StatusActive, base.AddDate(0, 0, 2)),
	}

	res := Reconcile(members, 1, OldestFirst, now)

	if len(res.Deactivated) != 1 || res.Deactivated[0].UserID != "u1" {
		t.Fatalf("deactivated = %v, want u1 (oldest)", res.Deactivated)
	}
}

func TestCounts(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	members := []*Member{
		newMember("owner", RoleOwner, StatusActive, base),
		newMember("u1", RoleMember, StatusActive, base),
		newMember("u2", RoleAdmin, StatusActive, base),
		newMember("u3", RoleMember, StatusInactive, base),
		newMember("u4", RoleMember, StatusPending, base),
	}

	if got := CountOwners(members); got != 1 {
		t.Errorf("CountOwners = %d, want 1", got)
	}
	if got := CountActiveNonOwners(members); got != 2 {
		t.Errorf("CountActiveNonOwners = %d, want 2", got)
	}
}
