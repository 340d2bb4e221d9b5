package member

import (
	"sort"
	"time"
)

// DeactivationPolicy orders members for deactivation when the active
// non-owner set must shrink. It reports whether a should lose its seat
// before b. Policies must be deterministic: repeated reconciliations over
// the same input must pick the same victims.
type DeactivationPolicy func(a, b *Member) bool

// NewestFirst deactivates the most recently joined members first, preserving
// the longest-tenured members. Ties on join time break on UserID so the
// ordering stays total.
func NewestFirst(a, b *Member) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.After(b.JoinedAt)
	}
	return a.UserID > b.UserID
}

// OldestFirst deactivates the longest-tenured members first. Provided as an
// alternative policy; NewestFirst is the default.
func OldestFirst(a, b *Member) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.UserID < b.UserID
}

// Result describes what a reconciliation changed.
type Result struct {
	Deactivated []*Member
	Reactivated []*Member
}

// Changed reports whether the reconciliation touched any member.
func (r Result) Changed() bool {
	return len(r.Deactivated) > 0 || len(r.Reactivated) > 0
}

// Reconcile grows or shrinks the active non-owner member set to match the
// allowed seat count, mutating members in place and reporting what changed.
//
// Rules:
//   - owners never lose their seat and are excluded from the count;
//   - shrink picks victims via policy (default NewestFirst when nil);
//   - grow reactivates previously deactivated members in ascending join
//     order, restoring the original access pattern;
//   - pending members are never auto-activated, they need to accept their
//     invitation first.
//
// The algorithm is idempotent: running it twice over the same input yields
// the same member set.
func Reconcile(members []*Member, allowed int, policy DeactivationPolicy, now time.Time) Result {
	if policy == nil {
		policy = NewestFirst
	}
	if allowed < 0 {
		allowed = 0
	}

	var active, inactive []*Member
	for _, m := range members {
		if m.IsOwner() {
			continue
		}
		switch m.Status {
		case StatusActive:
			active = append(active, m)
		case StatusInactive:
			inactive = append(inactive, m)
		}
	}

	var res Result

	switch {
	case len(active) > allowed:
		sort.SliceStable(active, func(i, j int) bool { return policy(active[i], active[j]) })
		for _, m := range active[:len(active)-allowed] {
			t := now
			m.Status = StatusInactive
			m.DeactivatedAt = &t
			m.Touch()
			res.Deactivated = append(res.Deactivated, m)
		}

	case len(active) < allowed:
		sort.SliceStable(inactive, func(i, j int) bool {
			if !inactive[i].JoinedAt.Equal(inactive[j].JoinedAt) {
				return inactive[i].JoinedAt.Before(inactive[j].JoinedAt)
			}
			return inactive[i].UserID < inactive[j].UserID
		})
		room := allowed - len(active)
		for _, m := range inactive {
			if room == 0 {
				break
			}
			m.Status = StatusActive
			m.DeactivatedAt = nil
			m.Touch()
			res.Reactivated = append(res.Reactivated, m)
			room--
		}
	}

	return res
}
