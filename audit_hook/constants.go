package audithook

// Action constants for audit events.
const (
	// Event dispatch actions
	ActionEventApplied = "event.applied"
	ActionEventSkipped = "event.skipped"
	ActionEventFailed  = "event.failed"

	// Subscription actions
	ActionSubscriptionStatusChanged = "subscription.status_changed"

	// Seat actions
	ActionSeatsChanged = "seats.changed"

	// Membership actions
	ActionMembersReconciled = "members.reconciled"

	// Notification actions
	ActionTrialWillEnd = "trial.will_end"
)

// Resource constants for audit events.
const (
	ResourceEvent        = "event"
	ResourceSubscription = "subscription"
	ResourceSeats        = "seats"
	ResourceMembership   = "membership"
	ResourceNotification = "notification"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryMembership   = "membership"
	CategoryNotification = "notification"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)
