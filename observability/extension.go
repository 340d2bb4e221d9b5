// Package observability provides a metrics extension for Entitle that
// records reconciliation event counts and latencies via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/entitle/audit"
	"github.com/xraph/entitle/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnEventApplied        = (*MetricsExtension)(nil)
	_ plugin.OnEventSkipped        = (*MetricsExtension)(nil)
	_ plugin.OnReconcileFailed     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged = (*MetricsExtension)(nil)
	_ plugin.OnSeatsChanged        = (*MetricsExtension)(nil)
	_ plugin.OnMembersReconciled   = (*MetricsExtension)(nil)
	_ plugin.OnTrialWillEnd        = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide reconciliation metrics.
// Register it as an Entitle plugin to automatically track dispatch outcomes.
type MetricsExtension struct {
	factory MetricFactory

	// Dispatch metrics
	EventsApplied     Counter
	EventsDuplicate   Counter
	EventsStale       Counter
	EventsUnknownType Counter
	EventsFailed      Counter
	ApplyLatency      Histogram

	// Subscription metrics
	StatusChanges Counter

	// Seat metrics
	SeatsPurchased Histogram
	SeatsUsed      Histogram

	// Membership metrics
	MembersDeactivated Counter
	MembersReactivated Counter

	// Notification metrics
	TrialNotices Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Dispatch metrics
		EventsApplied:     factory.Counter("entitle.events.applied"),
		EventsDuplicate:   factory.Counter("entitle.events.duplicate"),
		EventsStale:       factory.Counter("entitle.events.stale"),
		EventsUnknownType: factory.Counter("entitle.events.unknown_type"),
		EventsFailed:      factory.Counter("entitle.events.failed"),
		ApplyLatency:      factory.Histogram("entitle.events.apply.latency_ms"),

		// Subscription metrics
		StatusChanges: factory.Counter("entitle.subscription.status_changes"),

		// Seat metrics
		SeatsPurchased: factory.Histogram("entitle.seats.purchased"),
		SeatsUsed:      factory.Histogram("entitle.seats.used"),

		// Membership metrics
		MembersDeactivated: factory.Counter("entitle.members.deactivated"),
		MembersReactivated: factory.Counter("entitle.members.reactivated"),

		// Notification metrics
		TrialNotices: factory.Counter("entitle.notifications.trial_ending"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Event dispatch hooks
// ──────────────────────────────────────────────────

// OnEventApplied implements plugin.OnEventApplied.
func (m *MetricsExtension) OnEventApplied(_ context.Context, _ interface{}, elapsed time.Duration) error {
	m.EventsApplied.Inc()
	m.ApplyLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnEventSkipped implements plugin.OnEventSkipped.
func (m *MetricsExtension) OnEventSkipped(_ context.Context, _ interface{}, reason string) error {
	switch audit.Outcome(reason) {
	case audit.OutcomeDuplicate:
		m.EventsDuplicate.Inc()
	case audit.OutcomeStaleSkip:
		m.EventsStale.Inc()
	case audit.OutcomeUnknownType:
		m.EventsUnknownType.Inc()
	}
	return nil
}

// OnReconcileFailed implements plugin.OnReconcileFailed.
func (m *MetricsExtension) OnReconcileFailed(_ context.Context, _ interface{}, _ error) error {
	m.EventsFailed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// State change hooks
// ──────────────────────────────────────────────────

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ interface{}, _, _ string) error {
	m.StatusChanges.Inc()
	return nil
}

// OnSeatsChanged implements plugin.OnSeatsChanged.
func (m *MetricsExtension) OnSeatsChanged(_ context.Context, _ string, purchased, used int) error {
	m.SeatsPurchased.Observe(float64(purchased))
	m.SeatsUsed.Observe(float64(used))
	return nil
}

// OnMembersReconciled implements plugin.OnMembersReconciled.
func (m *MetricsExtension) OnMembersReconciled(_ context.Context, _ string, deactivated, reactivated int) error {
	m.MembersDeactivated.Add(float64(deactivated))
	m.MembersReactivated.Add(float64(reactivated))
	return nil
}

// OnTrialWillEnd implements plugin.OnTrialWillEnd.
func (m *MetricsExtension) OnTrialWillEnd(_ context.Context, _ interface{}) error {
	m.TrialNotices.Inc()
	return nil
}
