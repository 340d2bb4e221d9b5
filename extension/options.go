package extension

import (
	"time"

	entitle "github.com/xraph/entitle"
	"github.com/xraph/entitle/member"
	"github.com/xraph/entitle/notify"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
)

// Option configures the Entitle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the reconciliation engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an entitle.Option through to the underlying engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an entitle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithNotifier sets the notifier that delivers owner notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithNotifier(n))
	}
}

// WithDeactivationPolicy overrides the member deactivation order.
func WithDeactivationPolicy(p member.DeactivationPolicy) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithDeactivationPolicy(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithLockTimeout bounds how long one event dispatch waits for its
// tenant's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.LockTimeout = d }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
