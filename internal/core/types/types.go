// Package types provides quantity and money types shared across the ledger.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bags is a whole-bag count. Bag counts are always integral; fractional
// bags never appear in the ledger.
type Bags int64

func (b Bags) Int64() int64      { return int64(b) }
func (b Bags) IsZero() bool      { return b == 0 }
func (b Bags) IsPositive() bool  { return b > 0 }
func (b Bags) IsNegative() bool  { return b < 0 }
func (b Bags) Neg() Bags         { return -b }
func (b Bags) Add(o Bags) Bags   { return b + o }
func (b Bags) Sub(o Bags) Bags   { return b - o }
func (b Bags) String() string    { return fmt.Sprintf("%d", int64(b)) }

// Weight represents a net weight in kilograms with full decimal precision.
// Stored as NUMERIC; rounding happens only at presentation boundaries.
type Weight = decimal.Decimal

// Money represents a monetary amount with full decimal precision.
type Money = decimal.Decimal

// Rate is a purchase rate quoted per RateUnitKg of paddy.
type Rate = decimal.Decimal

// RateUnitKg is the mill convention for quoting paddy rates: per 75 kg,
// not per quintal.
const RateUnitKg = 75

// RateScale is the fraction digits a persisted rate carries.
const RateScale = 2

// WeightScale is the fraction digits a persisted net weight carries.
const WeightScale = 3

// NewWeight creates a Weight from a float.
// WARNING: prefer NewWeightFromString for values read from records.
func NewWeight(f float64) Weight {
	return decimal.NewFromFloat(f)
}

// NewWeightFromString creates a Weight from its decimal string form.
func NewWeightFromString(s string) (Weight, error) {
	return decimal.NewFromString(s)
}

// MustWeight creates a Weight from a string, panics on error.
// Use only for constants and tests.
func MustWeight(s string) Weight {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NewMoney creates a Money value from a float.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns a zero decimal value.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// RoundRate rounds a rate to its persisted scale. Call this exactly once,
// at the point of persistence - never mid-computation.
func RoundRate(r Rate) Rate {
	return r.Round(RateScale)
}

// RoundWeight rounds a weight to its persisted scale.
func RoundWeight(w Weight) Weight {
	return w.Round(WeightScale)
}

// NetWeight computes gross minus tare. The caller validates positivity
// where the movement kind requires it.
func NetWeight(gross, tare Weight) Weight {
	return gross.Sub(tare)
}
