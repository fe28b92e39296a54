package event

import (
	"milledger/internal/core/types"
)

// StockDelta is one signed leg of a movement in the unified fold stream.
type StockDelta struct {
	Variety  string
	Location LocationKey
	Bags     types.Bags
	Weight   types.Weight
}

// Deltas expands the event into its signed quantity legs per the ledger's
// sign conventions:
//
//	purchase             +bags at destination (or linked outturn)
//	loose                +bags at destination
//	shifting             -bags at source, +bags at destination
//	production shifting  -bags at source, +bags at destination outturn
//	sale                 -bags at source
//	palti                -bags at source, +converted bags at destination
//
// Deltas is a pure function of the event; it never consults approval state.
// Callers filter to admitted events before folding.
func (e *MovementEvent) Deltas() []StockDelta {
	switch e.Kind {
	case KindPurchase:
		dst := e.purchaseDestination()
		if dst == nil {
			return nil
		}
		return []StockDelta{in(e.Variety, *dst, e.Bags, e.NetWeight)}

	case KindLoose:
		if e.Destination == nil {
			return nil
		}
		return []StockDelta{in(e.Variety, *e.Destination, e.Bags, e.NetWeight)}

	case KindShifting, KindProductionShifting:
		if e.Source == nil || e.Destination == nil {
			return nil
		}
		return []StockDelta{
			out(e.Variety, *e.Source, e.Bags, e.NetWeight),
			in(e.Variety, *e.Destination, e.Bags, e.NetWeight),
		}

	case KindSale:
		if e.Source == nil {
			return nil
		}
		return []StockDelta{out(e.Variety, *e.Source, e.Bags, e.NetWeight)}

	case KindPalti:
		if e.Source == nil || e.Destination == nil {
			return nil
		}
		converted := e.ConvertedBags
		if converted.IsZero() {
			converted = e.Bags
		}
		// The destination weight drops by the repack shortage.
		return []StockDelta{
			out(e.Variety, *e.Source, e.Bags, e.NetWeight),
			in(e.Variety, *e.Destination, converted, e.NetWeight.Sub(e.ShortageWeight)),
		}
	}

	return nil
}

func in(variety string, loc LocationKey, bags types.Bags, weight types.Weight) StockDelta {
	return StockDelta{Variety: variety, Location: loc, Bags: bags, Weight: weight}
}

func out(variety string, loc LocationKey, bags types.Bags, weight types.Weight) StockDelta {
	return StockDelta{Variety: variety, Location: loc, Bags: bags.Neg(), Weight: weight.Neg()}
}
