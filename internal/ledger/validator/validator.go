// Package validator enforces chain-of-custody rules before a movement
// event is admitted. It runs synchronously before the store write; on
// rejection nothing is persisted. Rejections are pure validation failures,
// never downgraded or auto-corrected.
package validator

import (
	"context"
	"fmt"
	"time"

	"milledger/internal/core/apperror"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/ledger/event"
	"milledger/internal/ledger/location"
)

// BalanceReader is the slice of the balance engine the validator needs.
type BalanceReader interface {
	AvailableAt(ctx context.Context, loc event.LocationKey, variety string, asOf time.Time) (types.Bags, error)
	HeldAt(ctx context.Context, loc event.LocationKey, asOf time.Time) (map[string]types.Bags, error)
}

// Validator admits or rejects proposed movement events. Rules run in order
// and short-circuit on the first failure.
type Validator struct {
	balances  BalanceReader
	locations location.Repository
}

// New creates a movement validator.
func New(balances BalanceReader, locations location.Repository) *Validator {
	return &Validator{balances: balances, locations: locations}
}

// Validate runs the admission rules against a proposed event. The event
// must already be normalized.
func (v *Validator) Validate(ctx context.Context, mv *event.MovementEvent) error {
	if err := v.checkShape(mv); err != nil {
		return err
	}
	if err := v.checkDestinationAllotment(ctx, mv); err != nil {
		return err
	}
	if err := v.checkDestinationOccupancy(ctx, mv); err != nil {
		return err
	}
	if err := v.checkSourceStock(ctx, mv); err != nil {
		return err
	}
	return v.checkOutturnVariety(ctx, mv)
}

// checkShape covers rule 1 plus basic field sanity.
func (v *Validator) checkShape(mv *event.MovementEvent) error {
	if mv.Variety == "" {
		return apperror.NewValidation("variety is required").WithDetail("field", "variety")
	}
	if mv.Date.IsZero() {
		return apperror.NewInvalidInput("business date is required")
	}
	if !mv.Bags.IsPositive() {
		return apperror.NewValidation("bags must be positive").WithDetail("field", "bags")
	}
	// Net weight must be strictly positive for weighed purchases.
	if mv.Kind == event.KindPurchase && !mv.NetWeight.IsPositive() {
		return apperror.NewValidation("net weight must be positive").
			WithDetail("field", "netWeight").
			WithDetail("net_weight", mv.NetWeight.String())
	}
	if mv.HasSource() && (mv.Source == nil || mv.Source.IsZero()) {
		return apperror.NewInvalidInput(fmt.Sprintf("%s requires a source location", mv.Kind))
	}
	switch mv.Kind {
	case event.KindShifting, event.KindProductionShifting, event.KindLoose, event.KindPalti:
		if mv.Destination == nil || mv.Destination.IsZero() {
			return apperror.NewInvalidInput(fmt.Sprintf("%s requires a destination location", mv.Kind))
		}
	case event.KindPurchase:
		if mv.LinkedOutturnID == nil && (mv.Destination == nil || mv.Destination.IsZero()) {
			return apperror.NewInvalidInput("purchase requires a destination location or linked outturn")
		}
	}
	return nil
}

// checkDestinationAllotment covers rule 2: a kunchinittu with an allotted
// variety only ever stores that variety.
func (v *Validator) checkDestinationAllotment(ctx context.Context, mv *event.MovementEvent) error {
	dst := warehouseDestination(mv)
	if dst == nil {
		return nil
	}

	k, err := v.locations.GetKunchinittu(ctx, dst.KunchinittuID)
	if err != nil {
		return err
	}
	allotted := event.NormalizeVariety(k.AllottedVariety)
	if allotted != "" && allotted != mv.Variety {
		return apperror.NewVarietyMismatch(allotted, mv.Variety)
	}
	return nil
}

// checkDestinationOccupancy covers rule 3: no mixing, even absent an
// explicit allotment.
func (v *Validator) checkDestinationOccupancy(ctx context.Context, mv *event.MovementEvent) error {
	dst := warehouseDestination(mv)
	if dst == nil {
		return nil
	}

	// Occupancy is judged against all admitted stock, with no date bound:
	// admitted bags occupy the kunchinittu even when their business date
	// is in the future.
	held, err := v.balances.HeldAt(ctx, *dst, time.Time{})
	if err != nil {
		return err
	}
	for variety := range held {
		if variety != mv.Variety {
			return apperror.NewVarietyConflict(variety, mv.Variety)
		}
	}
	return nil
}

// checkSourceStock covers source existence and sufficiency: the source
// must hold admitted stock of the variety, and enough of it. The fold is
// unbounded - all inward minus all outward already admitted - so admitted
// movements with post-dated business dates still count. The insufficiency
// error reports the exact available quantity so the caller can retry
// corrected.
func (v *Validator) checkSourceStock(ctx context.Context, mv *event.MovementEvent) error {
	if !mv.HasSource() {
		return nil
	}

	available, err := v.balances.AvailableAt(ctx, *mv.Source, mv.Variety, time.Time{})
	if err != nil {
		return err
	}
	if available.IsZero() || available.IsNegative() {
		return apperror.NewSourceStockNotFound(mv.Source.String(), mv.Variety)
	}
	if mv.Bags > available {
		return apperror.NewInsufficientStock(mv.Source.String(), mv.Variety, mv.Bags.Int64(), available.Int64())
	}
	return nil
}

// checkOutturnVariety covers rule 6 for production shiftings into an
// outturn and purchases linked to an outturn.
func (v *Validator) checkOutturnVariety(ctx context.Context, mv *event.MovementEvent) error {
	var outturnID id.ID
	switch {
	case mv.Kind == event.KindProductionShifting && mv.Destination != nil && mv.Destination.IsOutturn():
		outturnID = mv.Destination.OutturnID
	case mv.Kind == event.KindPurchase && mv.LinkedOutturnID != nil && !id.IsNil(*mv.LinkedOutturnID):
		outturnID = *mv.LinkedOutturnID
	default:
		return nil
	}

	o, err := v.locations.GetOutturn(ctx, outturnID)
	if err != nil {
		return err
	}
	allotted := event.NormalizeVariety(o.AllottedVariety)
	if allotted != mv.Variety {
		return apperror.NewOutturnVarietyMismatch(allotted, mv.Variety)
	}
	return nil
}

// warehouseDestination returns the destination when it is a warehouse
// pair; outturn destinations are checked by the outturn rule instead.
func warehouseDestination(mv *event.MovementEvent) *event.LocationKey {
	if mv.Destination == nil || mv.Destination.IsZero() || mv.Destination.IsOutturn() {
		return nil
	}
	return mv.Destination
}
