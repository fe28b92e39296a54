// Package balance implements the stock balance engine: a pure fold over
// the admitted movement log producing net bags per (variety, location) and
// per (variety, outturn).
package balance

import (
	"context"
	"time"

	"milledger/internal/core/id"
	"milledger/internal/ledger/event"
)

// MovementFilter is the typed predicate set for event store range scans.
// Fields compose with AND; zero values mean "no restriction". Query text is
// always built from these fields by the adapter - never from caller strings.
type MovementFilter struct {
	// Before bounds the business date (exclusive).
	Before time.Time

	// Variety restricts to one normalized variety.
	Variety string

	// Kinds restricts to a subset of movement kinds; empty means all.
	Kinds []event.MovementKind

	// Location restricts to events touching the location on either leg.
	Location *event.LocationKey

	// AdmittedOnly restricts to admin-approved, non-tombstoned events.
	// Balance and rate computations always set this.
	AdmittedOnly bool
}

// ConsumptionFilter bounds production-consumption scans.
type ConsumptionFilter struct {
	Before    time.Time
	Variety   string
	OutturnID *id.ID
}

// EventStore is the event store adapter: filtered range scans over the
// immutable-once-admitted movement records. Implementations must exclude
// soft-deleted rows from every scan.
type EventStore interface {
	ListMovements(ctx context.Context, f MovementFilter) ([]event.MovementEvent, error)
	ListConsumptions(ctx context.Context, f ConsumptionFilter) ([]event.ProductionConsumption, error)

	// ClearedOutturns returns per-outturn clearing timestamps.
	ClearedOutturns(ctx context.Context) (map[id.ID]time.Time, error)
}
