package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned by Begin when the per-tenant lock cannot be
// acquired within the caller's timeout. The transaction was never started;
// the caller should retry with backoff.
var ErrLockTimeout = errors.New("entitle: tenant lock timeout")

// TenantLocks is an in-process exclusive lock table keyed by tenant.
// Store backends share it to serialize concurrent reconciliations for the
// same tenant while letting different tenants proceed in parallel.
//
// Lock entries are created on first use and reused afterwards; the table
// grows with the number of distinct tenants seen by this process, which is
// bounded by the working set of the webhook stream.
type TenantLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewTenantLocks creates an empty lock table.
func NewTenantLocks() *TenantLocks {
	return &TenantLocks{locks: make(map[string]chan struct{})}
}

func (t *TenantLocks) sem(tenantID string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	sem, ok := t.locks[tenantID]
	if !ok {
		sem = make(chan struct{}, 1)
		t.locks[tenantID] = sem
	}
	return sem
}

// Acquire takes the tenant's exclusive lock, waiting up to timeout. On
// success it returns a release function that must be called exactly once.
// Returns ErrLockTimeout when the timeout elapses and the context error when
// ctx is cancelled first.
func (t *TenantLocks) Acquire(ctx context.Context, tenantID string, timeout time.Duration) (func(), error) {
	sem := t.sem(tenantID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-sem })
		}, nil
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
