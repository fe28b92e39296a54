// Package event defines the movement-event model of the ledger: the closed
// set of movement kinds, approval states, and the expansion of each event
// into signed stock deltas. Events are immutable once admitted; only their
// approval-state fields change, and deletion is a soft tombstone.
package event

import (
	"fmt"
	"strings"
	"time"

	"milledger/internal/core/id"
	"milledger/internal/core/types"
)

// MovementKind is the closed enum of ledger movement types. Each kind
// defines which location legs are populated and their sign in balance
// folding - see Deltas.
type MovementKind string

const (
	// KindPurchase records a paddy arrival into a kunchinittu/warehouse
	// pair, or directly into an outturn when LinkedOutturnID is set.
	KindPurchase MovementKind = "purchase"

	// KindLoose records unweighed loose arrivals into a destination.
	KindLoose MovementKind = "loose"

	// KindShifting moves bags between kunchinittu/warehouse pairs.
	KindShifting MovementKind = "shifting"

	// KindProductionShifting moves bags from a warehouse location into a
	// production outturn.
	KindProductionShifting MovementKind = "production_shifting"

	// KindSale removes bags from a source location.
	KindSale MovementKind = "sale"

	// KindPalti is a repackaging conversion between bag sizes; the weight
	// shortage stays on the event.
	KindPalti MovementKind = "palti"
)

// Kinds lists every movement kind. Folds over the ledger iterate this, not
// ad hoc strings.
var Kinds = []MovementKind{
	KindPurchase,
	KindLoose,
	KindShifting,
	KindProductionShifting,
	KindSale,
	KindPalti,
}

// ApprovalState is the tri-state approval lifecycle. Only admin-approved
// events participate in stock and rate computation.
type ApprovalState string

const (
	ApprovalPending       ApprovalState = "pending"
	ApprovalApproved      ApprovalState = "approved"
	ApprovalAdminApproved ApprovalState = "adminApproved"
)

// NormalizeVariety returns the canonical form of a variety name. Every
// variety comparison in the ledger goes through this; raw strings are never
// compared.
func NormalizeVariety(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// LocationKey identifies a node in the stock graph: either a
// kunchinittu/warehouse pair or a production outturn. Exactly one of the
// two forms is populated.
type LocationKey struct {
	KunchinittuID id.ID
	WarehouseID   id.ID
	OutturnID     id.ID
}

// WarehouseLocation builds the key for a kunchinittu/warehouse pair.
func WarehouseLocation(kunchinittuID, warehouseID id.ID) LocationKey {
	return LocationKey{KunchinittuID: kunchinittuID, WarehouseID: warehouseID}
}

// OutturnLocation builds the key for a production outturn.
func OutturnLocation(outturnID id.ID) LocationKey {
	return LocationKey{OutturnID: outturnID}
}

// IsOutturn reports whether the key addresses an outturn.
func (k LocationKey) IsOutturn() bool {
	return !id.IsNil(k.OutturnID)
}

// IsZero reports whether no location is set.
func (k LocationKey) IsZero() bool {
	return id.IsNil(k.KunchinittuID) && id.IsNil(k.WarehouseID) && id.IsNil(k.OutturnID)
}

// String returns the canonical map-key form: "K<id>-W<id>" or "O<id>".
func (k LocationKey) String() string {
	if k.IsOutturn() {
		return fmt.Sprintf("O%s", k.OutturnID)
	}
	return fmt.Sprintf("K%s-W%s", k.KunchinittuID, k.WarehouseID)
}

// MovementEvent is the atomic unit of the ledger. Date is the business
// date, not the creation timestamp; it is the event's logical timestamp for
// balance computation.
type MovementEvent struct {
	ID   id.ID        `db:"id" json:"id"`
	Kind MovementKind `db:"-" json:"kind"`
	Date time.Time    `db:"date" json:"date"`

	// Variety is stored normalized (trimmed, upper-cased).
	Variety string `db:"variety" json:"variety"`

	Bags        types.Bags   `db:"bags" json:"bags"`
	GrossWeight types.Weight `db:"gross_weight" json:"grossWeight"`
	TareWeight  types.Weight `db:"tare_weight" json:"tareWeight"`
	NetWeight   types.Weight `db:"net_weight" json:"netWeight"`

	// Source and Destination are populated per kind; see Deltas.
	Source      *LocationKey `db:"-" json:"source,omitempty"`
	Destination *LocationKey `db:"-" json:"destination,omitempty"`

	// LinkedOutturnID marks a purchase booked directly against an outturn
	// instead of a warehouse location.
	LinkedOutturnID *id.ID `db:"linked_outturn_id" json:"linkedOutturnId,omitempty"`

	// TotalAmount is the purchase price, set only on priced purchases.
	// Feeds the weighted-average rate computation.
	TotalAmount *types.Money `db:"total_amount" json:"totalAmount,omitempty"`

	// ConvertedBags is the bag count after a palti repack. Zero for other kinds.
	ConvertedBags types.Bags `db:"converted_bags" json:"convertedBags,omitempty"`

	// ShortageWeight is the weight lost in a palti repack.
	ShortageWeight types.Weight `db:"shortage_weight" json:"shortageWeight,omitempty"`

	Approval  ApprovalState `db:"approval_state" json:"approvalState"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	DeletedAt *time.Time    `db:"deleted_at" json:"deletedAt,omitempty"`
}

// Normalize canonicalizes the variety in place. Call before validation and
// persistence.
func (e *MovementEvent) Normalize() {
	e.Variety = NormalizeVariety(e.Variety)
}

// IsAdmitted reports whether the event participates in stock-affecting
// aggregates: admin-approved and not tombstoned.
func (e *MovementEvent) IsAdmitted() bool {
	return e.Approval == ApprovalAdminApproved && e.DeletedAt == nil
}

// IsPriced reports whether the event carries a purchase amount.
func (e *MovementEvent) IsPriced() bool {
	return e.TotalAmount != nil && e.TotalAmount.IsPositive()
}

// HasSource reports whether the kind draws stock out of a source location.
func (e *MovementEvent) HasSource() bool {
	switch e.Kind {
	case KindShifting, KindProductionShifting, KindSale, KindPalti:
		return true
	}
	return false
}

// purchaseDestination resolves where a purchase lands: the linked outturn
// when set, the declared destination otherwise.
func (e *MovementEvent) purchaseDestination() *LocationKey {
	if e.LinkedOutturnID != nil && !id.IsNil(*e.LinkedOutturnID) {
		loc := OutturnLocation(*e.LinkedOutturnID)
		return &loc
	}
	return e.Destination
}
