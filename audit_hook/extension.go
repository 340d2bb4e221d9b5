// Package audithook bridges Entitle reconciliation events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// any concrete audit backend. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/entitle/event"
	"github.com/xraph/entitle/notify"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnEventApplied        = (*Extension)(nil)
	_ plugin.OnEventSkipped        = (*Extension)(nil)
	_ plugin.OnReconcileFailed     = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged = (*Extension)(nil)
	_ plugin.OnSeatsChanged        = (*Extension)(nil)
	_ plugin.OnMembersReconciled   = (*Extension)(nil)
	_ plugin.OnTrialWillEnd        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that the audit_hook package does not depend on
// a concrete backend — callers inject one at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Entitle reconciliation events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Event dispatch hooks
// ──────────────────────────────────────────────────

// OnEventApplied implements plugin.OnEventApplied.
func (e *Extension) OnEventApplied(ctx context.Context, ev interface{}, elapsed time.Duration) error {
	id, typ, tenant := eventFields(ev)
	return e.record(ctx, ActionEventApplied, SeverityInfo, OutcomeSuccess,
		ResourceEvent, id, CategoryBilling, nil,
		"event_type", typ,
		"tenant_id", tenant,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnEventSkipped implements plugin.OnEventSkipped.
func (e *Extension) OnEventSkipped(ctx context.Context, ev interface{}, reason string) error {
	id, typ, tenant := eventFields(ev)
	return e.record(ctx, ActionEventSkipped, SeverityInfo, OutcomeSkipped,
		ResourceEvent, id, CategoryBilling, nil,
		"event_type", typ,
		"tenant_id", tenant,
		"skip_reason", reason,
	)
}

// OnReconcileFailed implements plugin.OnReconcileFailed.
func (e *Extension) OnReconcileFailed(ctx context.Context, ev interface{}, failure error) error {
	id, typ, tenant := eventFields(ev)
	return e.record(ctx, ActionEventFailed, SeverityCritical, OutcomeFailure,
		ResourceEvent, id, CategoryBilling, failure,
		"event_type", typ,
		"tenant_id", tenant,
	)
}

// ──────────────────────────────────────────────────
// State change hooks
// ──────────────────────────────────────────────────

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, sub interface{}, oldStatus, newStatus string) error {
	var subID, tenant string
	if s, ok := sub.(*subscription.Subscription); ok {
		subID = s.ID.String()
		tenant = s.TenantID
	}

	severity := SeverityInfo
	if newStatus == string(subscription.StatusPastDue) || newStatus == string(subscription.StatusCancelled) {
		severity = SeverityWarning
	}

	return e.record(ctx, ActionSubscriptionStatusChanged, severity, OutcomeSuccess,
		ResourceSubscription, subID, CategorySubscription, nil,
		"tenant_id", tenant,
		"old_status", oldStatus,
		"new_status", newStatus,
	)
}

// OnSeatsChanged implements plugin.OnSeatsChanged.
func (e *Extension) OnSeatsChanged(ctx context.Context, tenantID string, purchased, used int) error {
	return e.record(ctx, ActionSeatsChanged, SeverityInfo, OutcomeSuccess,
		ResourceSeats, tenantID, CategorySubscription, nil,
		"tenant_id", tenantID,
		"purchased", purchased,
		"used", used,
	)
}

// OnMembersReconciled implements plugin.OnMembersReconciled.
func (e *Extension) OnMembersReconciled(ctx context.Context, tenantID string, deactivated, reactivated int) error {
	severity := SeverityInfo
	if deactivated > 0 {
		// Losing access is the change a tenant admin will ask about.
		severity = SeverityWarning
	}

	return e.record(ctx, ActionMembersReconciled, severity, OutcomeSuccess,
		ResourceMembership, tenantID, CategoryMembership, nil,
		"tenant_id", tenantID,
		"deactivated", deactivated,
		"reactivated", reactivated,
	)
}

// OnTrialWillEnd implements plugin.OnTrialWillEnd.
func (e *Extension) OnTrialWillEnd(ctx context.Context, notification interface{}) error {
	var notifID, tenant string
	var trialEnd time.Time
	if n, ok := notification.(*notify.Notification); ok {
		notifID = n.ID.String()
		tenant = n.TenantID
		trialEnd = n.TrialEnd
	}

	return e.record(ctx, ActionTrialWillEnd, SeverityInfo, OutcomeSuccess,
		ResourceNotification, notifID, CategoryNotification, nil,
		"tenant_id", tenant,
		"trial_end", trialEnd,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// eventFields extracts identifying fields when the hook payload is a
// provider event.
func eventFields(ev interface{}) (id, typ, tenant string) {
	e, ok := ev.(*event.Event)
	if !ok {
		return "", "", ""
	}
	return e.ID, string(e.Type), e.TenantID
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
