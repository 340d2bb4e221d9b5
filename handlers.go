package entitle

import (
	"fmt"
	"time"

	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/notify"
	"github.com/xraph/entitle/seat"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// state is the working copy a handler mutates. The engine loads it from the
// transaction, hands it to exactly one handler, validates the result and
// writes back only what changed. Handlers never touch the store.
type state struct {
	sub     *subscription.Subscription
	seats   *seat.Allocation
	members []*member.Member

	subChanged     bool
	seatsChanged   bool
	membersChanged bool

	deactivated   int
	reactivated   int
	notifications []*notify.Notification
}

// handlerFunc applies one event type's transition to the working state.
// Handlers are pure over the state copy: no I/O, no clock reads beyond the
// event's own occurrence time.
type handlerFunc func(st *state, ev *event.Event, policy member.DeactivationPolicy) error

var handlers = map[event.Type]handlerFunc{
	event.TypeCheckoutCompleted:       handleCheckoutCompleted,
	event.TypeInvoicePaymentSucceeded: handleInvoicePaid,
	event.TypeInvoicePaymentFailed:    handleInvoiceFailed,
	event.TypeSubscriptionUpdated:     handleSubscriptionUpdated,
	event.TypeSubscriptionDeleted:     handleSubscriptionDeleted,
	event.TypeSubscriptionPaused:      handleSubscriptionPaused,
	event.TypeSubscriptionResumed:     handleSubscriptionResumed,
	event.TypeTrialWillEnd:            handleTrialWillEnd,
}

// handleCheckoutCompleted establishes (or re-establishes) the tenant's
// subscription and opens a fresh seat allocation. The purchasing owner
// occupies the first seat, so the allocation starts at one used seat.
// Existing members are left untouched; a later subscription update
// reconciles them against the new quantity.
func handleCheckoutCompleted(st *state, ev *event.Event, _ member.DeactivationPolicy) error {
	quantity := ev.Payload.Quantity
	if quantity < 1 {
		return fmt.Errorf("checkout quantity %d: %w", quantity, ErrInvariantViolation)
	}

	periodStart, periodEnd := eventPeriod(ev)

	if st.sub == nil {
		st.sub = &subscription.Subscription{
			Entity:   types.NewEntity(),
			ID:       id.NewSubscriptionID(),
			TenantID: ev.TenantID,
		}
	}
	st.sub.ProviderSubscriptionID = ev.Payload.ProviderSubscriptionID
	st.sub.ProviderCustomerID = ev.Payload.ProviderCustomerID
	st.sub.Status = checkoutStatus(ev)
	st.sub.Quantity = quantity
	st.sub.CurrentPeriodStart = periodStart
	st.sub.CurrentPeriodEnd = periodEnd
	st.subChanged = true

	st.seats = &seat.Allocation{
		Entity:                 types.NewEntity(),
		ID:                     id.NewSeatID(),
		TenantID:               ev.TenantID,
		ProviderSubscriptionID: ev.Payload.ProviderSubscriptionID,
		PurchasedSeats:         quantity,
		UsedSeats:              1,
		PeriodStart:            periodStart,
		PeriodEnd:              periodEnd,
		AutoRenew:              true,
	}
	st.seatsChanged = true

	return nil
}

// handleInvoicePaid confirms payment for the current or next billing
// period. When the payload carries an advanced period the active seat
// allocation is superseded by a fresh row for the new period, preserving
// the old row as history.
func handleInvoicePaid(st *state, ev *event.Event, _ member.DeactivationPolicy) error {
	if st.sub == nil {
		return fmt.Errorf("invoice for unknown subscription: %w", ErrSubscriptionNotFound)
	}

	st.sub.Status = subscription.StatusActive
	st.subChanged = true

	periodStart, periodEnd := ev.Payload.PeriodStart, ev.Payload.PeriodEnd
	if periodStart.IsZero() || periodEnd.IsZero() {
		return nil
	}

	advanced := periodStart.After(st.sub.CurrentPeriodStart)
	st.sub.CurrentPeriodStart = periodStart
	st.sub.CurrentPeriodEnd = periodEnd

	if advanced && st.seats != nil {
		st.seats = st.seats.Supersede(periodStart, periodEnd)
		st.seatsChanged = true
	}

	return nil
}

// handleInvoiceFailed moves the subscription to past_due. Members keep
// their seats; access is only reduced once the provider deletes or pauses
// the subscription.
func handleInvoiceFailed(st *state, ev *event.Event, _ member.DeactivationPolicy) error {
	if st.sub == nil {
		return fmt.Errorf("invoice for unknown subscription: %w", ErrSubscriptionNotFound)
	}

	st.sub.Status = subscription.StatusPastDue
	st.subChanged = true

	return nil
}

// handleSubscriptionUpdated applies quantity, status and period changes
// from the provider, then reconciles membership against the new seat
// count.
func handleSubscriptionUpdated(st *state, ev *event.Event, policy member.DeactivationPolicy) error {
	if st.sub == nil {
		return fmt.Errorf("update for unknown subscription: %w", ErrSubscriptionNotFound)
	}
	if st.seats == nil {
		return fmt.Errorf("update before checkout: %w", ErrSeatsNotFound)
	}

	if q := ev.Payload.Quantity; q > 0 {
		st.sub.Quantity = q
	}
	if s := subscription.Status(ev.Payload.Status); s != "" {
		if !s.Valid() {
			return fmt.Errorf("status %q: %w", ev.Payload.Status, ErrInvariantViolation)
		}
		st.sub.Status = s
	}

	periodStart, periodEnd := ev.Payload.PeriodStart, ev.Payload.PeriodEnd
	if !periodStart.IsZero() && !periodEnd.IsZero() {
		advanced := periodStart.After(st.sub.CurrentPeriodStart)
		st.sub.CurrentPeriodStart = periodStart
		st.sub.CurrentPeriodEnd = periodEnd
		if advanced {
			st.seats = st.seats.Supersede(periodStart, periodEnd)
		}
	}
	st.subChanged = true

	st.seats.PurchasedSeats = st.sub.Quantity
	st.reconcileMembers(st.sub.Quantity, policy, ev.OccurredAt)

	return nil
}

// handleSubscriptionDeleted cancels the subscription and deactivates every
// non-owner member. The owner keeps access; the seat allocation row stays
// for history.
func handleSubscriptionDeleted(st *state, ev *event.Event, policy member.DeactivationPolicy) error {
	if st.sub == nil {
		return fmt.Errorf("delete for unknown subscription: %w", ErrSubscriptionNotFound)
	}

	st.sub.Status = subscription.StatusCancelled
	st.subChanged = true

	st.reconcileMembers(0, policy, ev.OccurredAt)

	return nil
}

// handleSubscriptionPaused suspends the subscription. Non-owner members
// lose their seats until the subscription resumes.
func handleSubscriptionPaused(st *state, ev *event.Event, policy member.DeactivationPolicy) error {
	if st.sub == nil {
		return fmt.Errorf("pause for unknown subscription: %w", ErrSubscriptionNotFound)
	}

	st.sub.Status = subscription.StatusPaused
	st.subChanged = true

	st.reconcileMembers(0, policy, ev.OccurredAt)

	return nil
}

// handleSubscriptionResumed reactivates the subscription and restores
// previously deactivated members, earliest joined first, up to the
// purchased seat count.
func handleSubscriptionResumed(st *state, ev *event.Event, policy member.DeactivationPolicy) error {
	if st.sub == nil {
		return fmt.Errorf("resume for unknown subscription: %w", ErrSubscriptionNotFound)
	}

	st.sub.Status = subscription.StatusActive
	st.subChanged = true

	st.reconcileMembers(st.sub.Quantity, policy, ev.OccurredAt)

	return nil
}

// handleTrialWillEnd creates an owner notification without mutating any
// entitlement state. The stored version marker is left alone so the
// notification never masks a slower-arriving state change.
func handleTrialWillEnd(st *state, ev *event.Event, _ member.DeactivationPolicy) error {
	if st.sub == nil {
		return fmt.Errorf("trial notice for unknown subscription: %w", ErrSubscriptionNotFound)
	}

	var ownerIDs []id.MemberID
	for _, m := range st.members {
		if m.IsOwner() {
			ownerIDs = append(ownerIDs, m.ID)
		}
	}
	if len(ownerIDs) == 0 {
		return fmt.Errorf("trial notice: %w", ErrNoOwner)
	}

	trialEnd := ev.Payload.TrialEnd
	if trialEnd.IsZero() {
		trialEnd = st.sub.CurrentPeriodEnd
	}

	st.notifications = append(st.notifications, &notify.Notification{
		ID:        id.NewNotificationID(),
		TenantID:  ev.TenantID,
		Kind:      notify.KindTrialEnding,
		MemberIDs: ownerIDs,
		TrialEnd:  trialEnd,
		CreatedAt: ev.OccurredAt,
	})

	return nil
}

// ──────────────────────────────────────────────────
// Shared transition helpers
// ──────────────────────────────────────────────────

// reconcileMembers adjusts membership to the allowed non-owner seat count
// and refreshes the used-seat figure on the active allocation.
func (st *state) reconcileMembers(allowed int, policy member.DeactivationPolicy, at time.Time) {
	res := member.Reconcile(st.members, allowed, policy, at)
	if res.Changed() {
		st.membersChanged = true
		st.deactivated += len(res.Deactivated)
		st.reactivated += len(res.Reactivated)
	}

	if st.seats != nil {
		st.seats.UsedSeats = usedSeats(st.seats.PurchasedSeats, member.CountActiveNonOwners(st.members))
		st.seatsChanged = true
	}
}

// usedSeats computes seat consumption. The owner always occupies the
// first seat of a live allocation, so usage never drops below one while
// anything is purchased.
func usedSeats(purchased, activeNonOwners int) int {
	used := activeNonOwners
	if used < 1 && purchased >= 1 {
		used = 1
	}
	return used
}

// eventPeriod returns the billing period carried by the payload, falling
// back to one month from the occurrence time when the provider omits it.
func eventPeriod(ev *event.Event) (time.Time, time.Time) {
	if !ev.Payload.PeriodStart.IsZero() && !ev.Payload.PeriodEnd.IsZero() {
		return ev.Payload.PeriodStart, ev.Payload.PeriodEnd
	}
	start := ev.OccurredAt
	return start, start.AddDate(0, 1, 0)
}

// checkoutStatus maps the checkout payload status onto the subscription,
// defaulting to active. Checkouts that open a trial arrive as trialing.
func checkoutStatus(ev *event.Event) subscription.Status {
	if s := subscription.Status(ev.Payload.Status); s.Valid() {
		return s
	}
	return subscription.StatusActive
}

// validate enforces the cross-entity invariants a completed transition
// must uphold. A violation aborts the transaction.
func (st *state) validate() error {
	if st.subChanged {
		if err := st.sub.Validate(); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvariantViolation)
		}
	}

	if st.seatsChanged && st.seats != nil {
		if err := st.seats.Validate(); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvariantViolation)
		}
		if st.seats.UsedSeats > st.seats.PurchasedSeats {
			return fmt.Errorf("used %d exceeds purchased %d: %w",
				st.seats.UsedSeats, st.seats.PurchasedSeats, ErrSeatOverflow)
		}
	}

	if st.sub != nil && st.seats != nil && (st.subChanged || st.seatsChanged) {
		if st.seats.PurchasedSeats != st.sub.Quantity {
			return fmt.Errorf("allocation %d seats, subscription quantity %d: %w",
				st.seats.PurchasedSeats, st.sub.Quantity, ErrInvariantViolation)
		}
	}

	if st.membersChanged && len(st.members) > 0 && member.CountOwners(st.members) == 0 {
		return fmt.Errorf("membership reconcile: %w", ErrNoOwner)
	}

	return nil
}
