// Package notify defines owner notifications and the collaborator interface
// that delivers them.
//
// The engine only creates notifications (today solely for trial-ending
// events); delivery, templating and channels belong to the injected
// Notifier.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/entitle/id"
)

// Kind classifies a notification.
type Kind string

const (
	// KindTrialEnding tells tenant owners their trial is about to end.
	KindTrialEnding Kind = "trial_ending"
)

// Notification is addressed to the owner members of one tenant.
type Notification struct {
	ID        id.NotificationID `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Kind      Kind              `json:"kind"`
	MemberIDs []id.MemberID     `json:"member_ids"`
	TrialEnd  time.Time         `json:"trial_end,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers notifications to tenant owners.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NotifierFunc adapts a plain function to a Notifier.
type NotifierFunc func(ctx context.Context, n *Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// LogNotifier is the default Notifier: it records the notification via slog
// and drops it. Useful for development and tests.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, n *Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification created",
		"kind", n.Kind,
		"tenant_id", n.TenantID,
		"recipients", len(n.MemberIDs),
		"trial_end", n.TrialEnd,
	)
	return nil
}
