// Package location holds the reference entities the ledger moves stock
// between: kunchinittus (yard sub-locations within a warehouse), the
// warehouses themselves, and production outturns.
package location

import (
	"time"

	"milledger/internal/core/id"
	"milledger/internal/core/types"
)

// Kunchinittu is a storage yard sub-location within a warehouse.
type Kunchinittu struct {
	ID   id.ID  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`

	// AllottedVariety, when set, is a hard constraint: only this variety
	// may ever be stored here. Stored normalized.
	AllottedVariety string `db:"allotted_variety" json:"allottedVariety,omitempty"`

	// AvgRate is a derived snapshot, not a ledger value. It is recomputed
	// from purchases or overwritten by a shift transfer.
	AvgRate          types.Rate `db:"avg_rate" json:"avgRate"`
	RateCalculatedAt *time.Time `db:"rate_calculated_at" json:"rateCalculatedAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Warehouse is a physical warehouse containing kunchinittus.
type Warehouse struct {
	ID        id.ID     `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Outturn is a production batch: paddy allocated for rice milling.
type Outturn struct {
	ID   id.ID  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`

	// AllottedVariety is required for outturns; every movement into the
	// outturn must match it.
	AllottedVariety string `db:"allotted_variety" json:"allottedVariety"`

	AvgRate          types.Rate `db:"avg_rate" json:"avgRate"`
	RateCalculatedAt *time.Time `db:"rate_calculated_at" json:"rateCalculatedAt,omitempty"`

	// ClearedAt is the reconciliation timestamp. Once set, only events
	// dated at or before it contribute to the outturn's balance - a
	// terminal snapshot; later entries belong to a new cycle.
	ClearedAt *time.Time `db:"cleared_at" json:"clearedAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// IsCleared reports whether the outturn has been reconciled.
func (o *Outturn) IsCleared() bool {
	return o.ClearedAt != nil
}
