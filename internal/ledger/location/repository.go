package location

import (
	"context"
	"time"

	"milledger/internal/core/id"
	"milledger/internal/core/types"
)

// Repository defines reads and rate-snapshot writes for reference entities.
// Implemented by ledger_repo over PostgreSQL.
type Repository interface {
	GetKunchinittu(ctx context.Context, kID id.ID) (*Kunchinittu, error)
	GetWarehouse(ctx context.Context, wID id.ID) (*Warehouse, error)
	GetOutturn(ctx context.Context, oID id.ID) (*Outturn, error)

	// ClearedOutturns returns the clearing timestamp for every cleared
	// outturn. The balance engine applies these as per-outturn cutoffs.
	ClearedOutturns(ctx context.Context) (map[id.ID]time.Time, error)

	// SetKunchinittuRate overwrites the rate snapshot. Rates are rounded
	// by the caller at this persistence boundary.
	SetKunchinittuRate(ctx context.Context, kID id.ID, rate types.Rate, at time.Time) error

	// SetOutturnRate overwrites the outturn rate snapshot.
	SetOutturnRate(ctx context.Context, oID id.ID, rate types.Rate, at time.Time) error

	// MarkOutturnCleared stamps the terminal reconciliation time.
	MarkOutturnCleared(ctx context.Context, oID id.ID, at time.Time) error
}
