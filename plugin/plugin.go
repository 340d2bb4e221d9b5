// Package plugin provides an extensible plugin system for Entitle.
// Plugins can hook into reconciliation lifecycle events to extend
// functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Event dispatch hooks
// ──────────────────────────────────────────────────

// OnEventApplied is called after a provider event mutated entitlement
// state and the transaction committed.
type OnEventApplied interface {
	Plugin
	OnEventApplied(ctx context.Context, ev interface{}, elapsed time.Duration) error
}

// OnEventSkipped is called when a provider event resolved without
// touching state. The reason is one of "duplicate", "stale-skip" or
// "unknown-type".
type OnEventSkipped interface {
	Plugin
	OnEventSkipped(ctx context.Context, ev interface{}, reason string) error
}

// OnReconcileFailed is called when a handler or invariant check rejected
// an event and the transaction was rolled back.
type OnReconcileFailed interface {
	Plugin
	OnReconcileFailed(ctx context.Context, ev interface{}, err error) error
}

// ──────────────────────────────────────────────────
// State change hooks
// ──────────────────────────────────────────────────

// OnSubscriptionChanged is called when an applied event moved the
// subscription to a different status.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, sub interface{}, oldStatus, newStatus string) error
}

// OnSeatsChanged is called when an applied event changed the tenant's
// seat allocation.
type OnSeatsChanged interface {
	Plugin
	OnSeatsChanged(ctx context.Context, tenantID string, purchased, used int) error
}

// OnMembersReconciled is called when an applied event deactivated or
// reactivated members.
type OnMembersReconciled interface {
	Plugin
	OnMembersReconciled(ctx context.Context, tenantID string, deactivated, reactivated int) error
}

// OnTrialWillEnd is called for each owner notification created by a
// trial-ending event, after delivery was attempted.
type OnTrialWillEnd interface {
	Plugin
	OnTrialWillEnd(ctx context.Context, notification interface{}) error
}
