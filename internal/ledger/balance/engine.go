package balance

import (
	"context"
	"fmt"
	"time"

	"milledger/internal/core/apperror"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/ledger/event"
)

// Key identifies one stock pool in a balance projection.
type Key struct {
	Variety  string
	Location event.LocationKey
}

// Entry is the folded quantity for a stock pool. Only non-zero bag sums are
// reported; the projection carries significant entries, not a full matrix.
type Entry struct {
	Bags      types.Bags
	NetWeight types.Weight
}

// OpeningBalance is the engine's projection: warehouse pools and
// production (outturn) pools, keyed by normalized variety and location.
type OpeningBalance struct {
	WarehouseBalances  map[Key]Entry
	ProductionBalances map[Key]Entry

	// Cutoff echoes the exclusive upper bound the projection was built for.
	Cutoff time.Time
}

// Engine computes balances by replaying movement events up to a cutoff.
// It is a pure function over the store snapshot: it never mutates events
// or rates, and identical inputs yield identical output.
type Engine struct {
	store EventStore
}

// NewEngine creates a balance engine over an event store.
func NewEngine(store EventStore) *Engine {
	return &Engine{store: store}
}

// ComputeOpeningBalance folds all admitted movements and production
// consumptions dated strictly before cutoff. varietyFilter, when non-empty,
// restricts the projection to one variety (normalized here).
//
// Outturns marked cleared apply their own terminal cutoff: events dated
// after the clearing time never contribute, even when cutoff is later.
func (e *Engine) ComputeOpeningBalance(ctx context.Context, cutoff time.Time, varietyFilter string) (*OpeningBalance, error) {
	if cutoff.IsZero() {
		return nil, apperror.NewInvalidInput("cutoff date is required")
	}
	variety := event.NormalizeVariety(varietyFilter)

	movements, err := e.store.ListMovements(ctx, MovementFilter{
		Before:       cutoff,
		Variety:      variety,
		AdmittedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}

	consumptions, err := e.store.ListConsumptions(ctx, ConsumptionFilter{
		Before:  cutoff,
		Variety: variety,
	})
	if err != nil {
		return nil, fmt.Errorf("list consumptions: %w", err)
	}

	cleared, err := e.store.ClearedOutturns(ctx)
	if err != nil {
		return nil, fmt.Errorf("cleared outturns: %w", err)
	}

	acc := newAccumulator(cleared)
	for i := range movements {
		mv := &movements[i]
		for _, d := range mv.Deltas() {
			acc.add(mv.Date, d)
		}
	}
	for i := range consumptions {
		c := &consumptions[i]
		acc.add(c.Date, c.Delta())
	}

	return acc.result(cutoff), nil
}

// AvailableAt returns the admitted bags of one variety at one location as
// of asOf (exclusive). This is the source-sufficiency fold restricted to a
// single pool.
func (e *Engine) AvailableAt(ctx context.Context, loc event.LocationKey, variety string, asOf time.Time) (types.Bags, error) {
	held, err := e.HeldAt(ctx, loc, asOf)
	if err != nil {
		return 0, err
	}
	return held[event.NormalizeVariety(variety)], nil
}

// HeldAt returns every variety with a non-zero admitted balance at the
// location as of asOf. A zero asOf removes the date bound: the fold then
// covers every admitted movement, post-dated ones included. Admission
// checks use the unbounded form, because admitted bags occupy space and
// leave the source regardless of their business date.
func (e *Engine) HeldAt(ctx context.Context, loc event.LocationKey, asOf time.Time) (map[string]types.Bags, error) {
	movements, err := e.store.ListMovements(ctx, MovementFilter{
		Before:       asOf,
		Location:     &loc,
		AdmittedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}

	acc := make(map[string]types.Bags)
	for i := range movements {
		mv := &movements[i]
		for _, d := range mv.Deltas() {
			if d.Location != loc {
				continue
			}
			acc[d.Variety] = acc[d.Variety].Add(d.Bags)
		}
	}

	if loc.IsOutturn() {
		consumptions, err := e.store.ListConsumptions(ctx, ConsumptionFilter{
			Before:    asOf,
			OutturnID: &loc.OutturnID,
		})
		if err != nil {
			return nil, fmt.Errorf("list consumptions: %w", err)
		}
		for i := range consumptions {
			d := consumptions[i].Delta()
			acc[d.Variety] = acc[d.Variety].Add(d.Bags)
		}
	}

	for v, bags := range acc {
		if bags.IsZero() {
			delete(acc, v)
		}
	}
	return acc, nil
}

// accumulator groups the unified delta stream by (variety, location).
type accumulator struct {
	warehouse  map[Key]Entry
	production map[Key]Entry
	cleared    map[id.ID]time.Time
}

func newAccumulator(cleared map[id.ID]time.Time) *accumulator {
	return &accumulator{
		warehouse:  make(map[Key]Entry),
		production: make(map[Key]Entry),
		cleared:    cleared,
	}
}

func (a *accumulator) add(date time.Time, d event.StockDelta) {
	if d.Bags.IsZero() && d.Weight.IsZero() {
		return
	}

	key := Key{Variety: d.Variety, Location: d.Location}
	if d.Location.IsOutturn() {
		// Clearing cutoff: a cleared outturn is a terminal snapshot.
		if t, ok := a.cleared[d.Location.OutturnID]; ok && date.After(t) {
			return
		}
		a.bump(a.production, key, d)
		return
	}
	a.bump(a.warehouse, key, d)
}

func (a *accumulator) bump(m map[Key]Entry, key Key, d event.StockDelta) {
	entry := m[key]
	entry.Bags = entry.Bags.Add(d.Bags)
	entry.NetWeight = entry.NetWeight.Add(d.Weight)
	m[key] = entry
}

func (a *accumulator) result(cutoff time.Time) *OpeningBalance {
	dropZero(a.warehouse)
	dropZero(a.production)
	return &OpeningBalance{
		WarehouseBalances:  a.warehouse,
		ProductionBalances: a.production,
		Cutoff:             cutoff,
	}
}

// dropZero removes pools whose bag sum nets to zero.
func dropZero(m map[Key]Entry) {
	for k, e := range m {
		if e.Bags.IsZero() {
			delete(m, k)
		}
	}
}
