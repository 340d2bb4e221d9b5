// Package entitle reconciles billing provider lifecycle events into
// per-tenant entitlement state.
//
// Entitle is designed as a library, not a service. Import it directly into
// your Go application and feed it the provider events your webhook
// transport has already verified and tenant-resolved. It provides:
//
//   - Exactly-once application of provider events via an idempotency ledger
//   - Per-tenant serialized transactions with full parallelism across tenants
//   - Deterministic seat-based membership reconciliation
//   - Out-of-order delivery protection through a monotonic staleness guard
//   - A best-effort audit trail of every dispatch attempt
//   - Pluggable lifecycle hooks for metrics and auditing
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/entitle"
//	    "github.com/xraph/entitle/store/memory"
//	)
//
//	eng := entitle.New(memory.New())
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// Feed it events as the provider delivers them:
//
//	result, err := eng.Process(ctx, &event.Event{
//	    ID:         "evt_123",
//	    Type:       event.TypeCheckoutCompleted,
//	    TenantID:   "tenant-a",
//	    OccurredAt: occurredAt,
//	    Payload:    event.Payload{Quantity: 5},
//	})
//
// A nil error means the event is settled: applied, or recognized as a
// duplicate, stale, or of an unknown type — the Result outcome says which.
// A non-nil error means the event was not recorded and the provider should
// redeliver it; use IsRetryable and IsInvariantViolation to classify.
//
// # Core Concepts
//
// Each tenant has at most one Subscription, one current seat Allocation
// per billing period, and a set of Members. Events mutate this state
// through pure per-type handlers running inside one store transaction.
// When the purchased seat count shrinks, the newest non-owner members
// lose their seats first; when it grows back, the earliest joined come
// back first. Owners are never touched.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	seat_01h2xcejqtf2nbrexx3vqjhp41  // Seat allocation ID
//	mem_01h455vb4pex5vsknk084sn02q   // Member ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package entitle
