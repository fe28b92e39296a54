package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"milledger/internal/core/apperror"
	"milledger/internal/core/id"
	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
)

const consumptionTable = "ldg_production_consumptions"

var consumptionColumns = []string{
	"id", "outturn_id", "variety", "product_type",
	"quantity_quintals", "date", "created_at", "deleted_at",
}

// ListConsumptions scans production consumptions for the balance fold.
// Tombstoned rows never leave this method.
func (r *MovementRepo) ListConsumptions(ctx context.Context, f balance.ConsumptionFilter) ([]event.ProductionConsumption, error) {
	q := r.builder.Select(consumptionColumns...).
		From(consumptionTable).
		Where("deleted_at IS NULL").
		OrderBy("date", "created_at")

	if !f.Before.IsZero() {
		q = q.Where(squirrel.Lt{"date": f.Before})
	}
	if f.Variety != "" {
		q = q.Where(squirrel.Eq{"variety": f.Variety})
	}
	if f.OutturnID != nil {
		q = q.Where(squirrel.Eq{"outturn_id": *f.OutturnID})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []event.ProductionConsumption
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, apperror.NewStoreUnavailable(err).WithDetail("table", consumptionTable)
	}
	return rows, nil
}

// InsertConsumption appends a production consumption record.
func (r *MovementRepo) InsertConsumption(ctx context.Context, c *event.ProductionConsumption) error {
	if id.IsNil(c.ID) {
		c.ID = id.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Variety = event.NormalizeVariety(c.Variety)

	q := r.builder.Insert(consumptionTable).
		Columns(consumptionColumns...).
		Values(c.ID, c.OutturnID, c.Variety, string(c.ProductType),
			c.QuantityQuintals, c.Date, c.CreatedAt, nil)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewStoreUnavailable(err).WithDetail("table", consumptionTable)
	}
	return nil
}

// SoftDeleteConsumption tombstones a consumption record.
func (r *MovementRepo) SoftDeleteConsumption(ctx context.Context, cID id.ID, at time.Time) error {
	q := r.builder.Update(consumptionTable).
		Set("deleted_at", at).
		Where(squirrel.Eq{"id": cID}).
		Where("deleted_at IS NULL")

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStoreUnavailable(err).WithDetail("table", consumptionTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("consumption", cID)
	}
	return nil
}

// ClearedOutturns returns the clearing timestamp of every cleared outturn.
// The balance engine applies these as per-outturn cutoffs.
func (r *MovementRepo) ClearedOutturns(ctx context.Context) (map[id.ID]time.Time, error) {
	q := r.builder.Select("id", "cleared_at").
		From("cat_outturns").
		Where("cleared_at IS NOT NULL")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	type clearedRow struct {
		ID        id.ID     `db:"id"`
		ClearedAt time.Time `db:"cleared_at"`
	}
	var rows []clearedRow
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, apperror.NewStoreUnavailable(err).WithDetail("table", "cat_outturns")
	}

	cleared := make(map[id.ID]time.Time, len(rows))
	for _, row := range rows {
		cleared[row.ID] = row.ClearedAt
	}
	return cleared, nil
}

var _ balance.EventStore = (*MovementRepo)(nil)
