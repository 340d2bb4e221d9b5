package entitle

import (
	"errors"

	"github.com/xraph/entitle/store"
)

// Sentinel errors for common failure scenarios.
var (
	// Resolved internally; never returned by Engine.Process. Exposed so
	// stores and tests can classify outcomes.
	ErrAlreadyProcessed = errors.New("entitle: event already processed")
	ErrUnknownEventType = errors.New("entitle: unknown event type")
	ErrStaleEvent       = errors.New("entitle: stale event")

	// Input errors
	ErrInvalidEvent = errors.New("entitle: invalid event")

	// State errors, folded into the invariant-violation class: they mean
	// the event references state that does not exist or would corrupt it,
	// the transaction is aborted and the event stays unrecorded so the
	// provider retries it.
	ErrInvariantViolation   = errors.New("entitle: invariant violation")
	ErrSubscriptionNotFound = errors.New("entitle: subscription not found")
	ErrSeatsNotFound        = errors.New("entitle: seat allocation not found")
	ErrNoOwner              = errors.New("entitle: tenant has no owner member")
	ErrSeatOverflow         = errors.New("entitle: used seats exceed purchased seats")

	// Infrastructure errors, retryable with backoff.
	ErrLockTimeout      = store.ErrLockTimeout
	ErrStoreUnavailable = errors.New("entitle: store unavailable")
)

// IsInvariantViolation reports whether the error indicates state that needs
// investigation before the event can apply.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrSeatsNotFound) ||
		errors.Is(err, ErrNoOwner) ||
		errors.Is(err, ErrSeatOverflow)
}

// IsRetryable reports whether the caller should redeliver the event after a
// backoff. Invariant violations are included: the event was not recorded as
// processed, and a later redelivery may find repaired state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrStoreUnavailable) ||
		IsInvariantViolation(err)
}
