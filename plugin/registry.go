package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onEventApplied        []OnEventApplied
	onEventSkipped        []OnEventSkipped
	onReconcileFailed     []OnReconcileFailed
	onSubscriptionChanged []OnSubscriptionChanged
	onSeatsChanged        []OnSeatsChanged
	onMembersReconciled   []OnMembersReconciled
	onTrialWillEnd        []OnTrialWillEnd
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnEventApplied); ok {
		r.onEventApplied = append(r.onEventApplied, v)
	}
	if v, ok := p.(OnEventSkipped); ok {
		r.onEventSkipped = append(r.onEventSkipped, v)
	}
	if v, ok := p.(OnReconcileFailed); ok {
		r.onReconcileFailed = append(r.onReconcileFailed, v)
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
	}
	if v, ok := p.(OnSeatsChanged); ok {
		r.onSeatsChanged = append(r.onSeatsChanged, v)
	}
	if v, ok := p.(OnMembersReconciled); ok {
		r.onMembersReconciled = append(r.onMembersReconciled, v)
	}
	if v, ok := p.(OnTrialWillEnd); ok {
		r.onTrialWillEnd = append(r.onTrialWillEnd, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnEventApplied)(nil)).Elem(), "OnEventApplied")
	checkInterface(reflect.TypeOf((*OnEventSkipped)(nil)).Elem(), "OnEventSkipped")
	checkInterface(reflect.TypeOf((*OnReconcileFailed)(nil)).Elem(), "OnReconcileFailed")
	checkInterface(reflect.TypeOf((*OnSubscriptionChanged)(nil)).Elem(), "OnSubscriptionChanged")
	checkInterface(reflect.TypeOf((*OnSeatsChanged)(nil)).Elem(), "OnSeatsChanged")
	checkInterface(reflect.TypeOf((*OnMembersReconciled)(nil)).Elem(), "OnMembersReconciled")
	checkInterface(reflect.TypeOf((*OnTrialWillEnd)(nil)).Elem(), "OnTrialWillEnd")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventApplied emits an event applied notification.
func (r *Registry) EmitEventApplied(ctx context.Context, ev interface{}, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onEventApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventApplied(ctx, ev, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnEventApplied failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventSkipped emits an event skipped notification.
func (r *Registry) EmitEventSkipped(ctx context.Context, ev interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onEventSkipped
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventSkipped(ctx, ev, reason)
		}); err != nil {
			r.logger.Warn("plugin OnEventSkipped failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconcileFailed emits a reconcile failed notification.
func (r *Registry) EmitReconcileFailed(ctx context.Context, ev interface{}, failure error) {
	r.mu.RLock()
	plugins := r.onReconcileFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconcileFailed(ctx, ev, failure)
		}); err != nil {
			r.logger.Warn("plugin OnReconcileFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionChanged emits a subscription status change notification.
func (r *Registry) EmitSubscriptionChanged(ctx context.Context, sub interface{}, oldStatus, newStatus string) {
	r.mu.RLock()
	plugins := r.onSubscriptionChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionChanged(ctx, sub, oldStatus, newStatus)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSeatsChanged emits a seat allocation change notification.
func (r *Registry) EmitSeatsChanged(ctx context.Context, tenantID string, purchased, used int) {
	r.mu.RLock()
	plugins := r.onSeatsChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSeatsChanged(ctx, tenantID, purchased, used)
		}); err != nil {
			r.logger.Warn("plugin OnSeatsChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitMembersReconciled emits a membership reconciliation notification.
func (r *Registry) EmitMembersReconciled(ctx context.Context, tenantID string, deactivated, reactivated int) {
	r.mu.RLock()
	plugins := r.onMembersReconciled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnMembersReconciled(ctx, tenantID, deactivated, reactivated)
		}); err != nil {
			r.logger.Warn("plugin OnMembersReconciled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTrialWillEnd emits a trial ending notification.
func (r *Registry) EmitTrialWillEnd(ctx context.Context, notification interface{}) {
	r.mu.RLock()
	plugins := r.onTrialWillEnd
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTrialWillEnd(ctx, notification)
		}); err != nil {
			r.logger.Warn("plugin OnTrialWillEnd failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the reconciliation pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
