// Package rate maintains average-rate snapshots as a derived projection of
// the movement log. Rates ride on the same event stream as balances but are
// best-effort: a rate failure never invalidates the ledger write that
// triggered it.
package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"milledger/internal/core/apperror"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
	"milledger/internal/ledger/location"
	"milledger/pkg/logger"
)

// Snapshot is the rate read model attached to a kunchinittu or outturn.
type Snapshot struct {
	Rate         types.Rate `json:"rate"`
	CalculatedAt *time.Time `json:"lastCalculatedAt,omitempty"`
}

// Service recomputes and propagates average purchase rates.
type Service struct {
	store     balance.EventStore
	locations location.Repository
	audit     AuditLogger
}

// NewService creates a rate propagation service.
func NewService(store balance.EventStore, locations location.Repository, audit AuditLogger) *Service {
	return &Service{store: store, locations: locations, audit: audit}
}

// HandleAdmitted applies the rate side effect for a freshly admitted
// movement. Dispatch is by kind: purchases recompute their destination's
// rate; shiftings transfer the source rate to the destination. Other kinds
// carry no rate effect.
func (s *Service) HandleAdmitted(ctx context.Context, mv *event.MovementEvent) error {
	switch mv.Kind {
	case event.KindPurchase:
		if mv.LinkedOutturnID != nil && !id.IsNil(*mv.LinkedOutturnID) {
			_, err := s.RecalculateOutturnRate(ctx, *mv.LinkedOutturnID)
			return err
		}
		if mv.Destination != nil && !mv.Destination.IsOutturn() {
			_, err := s.RecalculateKunchinittuRate(ctx, mv.Destination.KunchinittuID)
			return err
		}
		return nil

	case event.KindShifting, event.KindProductionShifting:
		return s.TransferOnShift(ctx, mv)
	}
	return nil
}

// RecalculateKunchinittuRate recomputes the weighted-average purchase rate
// for a kunchinittu from scratch: sum of amounts over sum of net weights,
// scaled to the per-75kg quote. When no priced purchases exist, an already
// held rate (inherited from an earlier shift) is preserved, not zeroed.
func (s *Service) RecalculateKunchinittuRate(ctx context.Context, kID id.ID) (types.Rate, error) {
	k, err := s.locations.GetKunchinittu(ctx, kID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get kunchinittu: %w", err)
	}

	rate, priced, err := s.weightedPurchaseRate(ctx, func(mv *event.MovementEvent) bool {
		return mv.LinkedOutturnID == nil &&
			mv.Destination != nil && !mv.Destination.IsOutturn() &&
			mv.Destination.KunchinittuID == kID
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !priced {
		return k.AvgRate, nil
	}

	rounded := types.RoundRate(rate)
	if err := s.locations.SetKunchinittuRate(ctx, kID, rounded, time.Now().UTC()); err != nil {
		return decimal.Zero, fmt.Errorf("set kunchinittu rate: %w", err)
	}
	return rounded, nil
}

// RecalculateOutturnRate recomputes the rate of an outturn from purchases
// booked directly against it. Like kunchinittus, an inherited rate survives
// when no priced purchases exist.
func (s *Service) RecalculateOutturnRate(ctx context.Context, oID id.ID) (types.Rate, error) {
	o, err := s.locations.GetOutturn(ctx, oID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get outturn: %w", err)
	}

	rate, priced, err := s.weightedPurchaseRate(ctx, func(mv *event.MovementEvent) bool {
		return mv.LinkedOutturnID != nil && *mv.LinkedOutturnID == oID
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !priced {
		return o.AvgRate, nil
	}

	rounded := types.RoundRate(rate)
	if err := s.locations.SetOutturnRate(ctx, oID, rounded, time.Now().UTC()); err != nil {
		return decimal.Zero, fmt.Errorf("set outturn rate: %w", err)
	}
	return rounded, nil
}

// weightedPurchaseRate folds admitted priced purchases matched by dest into
// sum(totalAmount)/sum(netWeight) x RateUnitKg. Rounding is left to the
// caller at the persistence boundary.
func (s *Service) weightedPurchaseRate(ctx context.Context, dest func(*event.MovementEvent) bool) (types.Rate, bool, error) {
	purchases, err := s.store.ListMovements(ctx, balance.MovementFilter{
		Kinds:        []event.MovementKind{event.KindPurchase},
		AdmittedOnly: true,
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("list purchases: %w", err)
	}

	totalAmount := decimal.Zero
	totalWeight := decimal.Zero
	for i := range purchases {
		mv := &purchases[i]
		if !mv.IsPriced() || !dest(mv) {
			continue
		}
		totalAmount = totalAmount.Add(*mv.TotalAmount)
		totalWeight = totalWeight.Add(mv.NetWeight)
	}

	if totalWeight.IsZero() {
		return decimal.Zero, false, nil
	}
	rate := totalAmount.Div(totalWeight).Mul(decimal.NewFromInt(types.RateUnitKg))
	return rate, true, nil
}

// TransferOnShift propagates the source rate along a shifting edge. This is
// an explicit two-phase operation: first the source rate is recalculated,
// then - only if positive - copied verbatim to the destination,
// overwriting whatever was there. Last writer wins; rates are never blended
// with the destination's prior rate or quantity. Recalculating first keeps
// a chain of shifts (A -> B -> C) propagating fresh rates instead of stale
// ones.
func (s *Service) TransferOnShift(ctx context.Context, mv *event.MovementEvent) error {
	if mv.Source == nil || mv.Source.IsOutturn() || mv.Destination == nil {
		return nil
	}

	// Phase one: bring the source rate up to date.
	sourceRate, err := s.RecalculateKunchinittuRate(ctx, mv.Source.KunchinittuID)
	if err != nil {
		return fmt.Errorf("recalculate source rate: %w", err)
	}
	if !sourceRate.IsPositive() {
		return nil
	}

	// Phase two: copy to the destination.
	now := time.Now().UTC()
	record := Transfer{
		MovementID: mv.ID,
		SourceKey:  mv.Source.String(),
		DestKey:    mv.Destination.String(),
		SourceRate: sourceRate,
		Bags:       mv.Bags,
		OccurredAt: now,
	}

	if mv.Destination.IsOutturn() {
		o, err := s.locations.GetOutturn(ctx, mv.Destination.OutturnID)
		if err != nil {
			return fmt.Errorf("get destination outturn: %w", err)
		}
		record.PrevDestRate = o.AvgRate
		if err := s.locations.SetOutturnRate(ctx, mv.Destination.OutturnID, sourceRate, now); err != nil {
			return fmt.Errorf("set destination outturn rate: %w", err)
		}
	} else {
		k, err := s.locations.GetKunchinittu(ctx, mv.Destination.KunchinittuID)
		if err != nil {
			return fmt.Errorf("get destination kunchinittu: %w", err)
		}
		record.PrevDestRate = k.AvgRate
		if err := s.locations.SetKunchinittuRate(ctx, mv.Destination.KunchinittuID, sourceRate, now); err != nil {
			return fmt.Errorf("set destination kunchinittu rate: %w", err)
		}
	}
	record.NewDestRate = sourceRate

	// Audit is log-and-continue: a trail failure never fails the transfer.
	if err := s.audit.LogTransfer(ctx, record); err != nil {
		logger.Error(ctx, "rate transfer audit failed",
			"movement_id", mv.ID,
			"source", record.SourceKey,
			"destination", record.DestKey,
			"error", err,
		)
	}

	return nil
}

// GetRate returns the rate snapshot for a kunchinittu or outturn.
func (s *Service) GetRate(ctx context.Context, loc event.LocationKey) (*Snapshot, error) {
	if loc.IsOutturn() {
		o, err := s.locations.GetOutturn(ctx, loc.OutturnID)
		if err != nil {
			return nil, err
		}
		return &Snapshot{Rate: o.AvgRate, CalculatedAt: o.RateCalculatedAt}, nil
	}
	if id.IsNil(loc.KunchinittuID) {
		return nil, apperror.NewInvalidInput("location must name a kunchinittu or outturn")
	}
	k, err := s.locations.GetKunchinittu(ctx, loc.KunchinittuID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Rate: k.AvgRate, CalculatedAt: k.RateCalculatedAt}, nil
}
