package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"milledger/internal/core/apperror"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/infrastructure/storage/postgres"
	"milledger/internal/ledger/location"
)

// LocationRepo implements location.Repository over the catalog tables.
type LocationRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewLocationRepo creates the reference-entity repository.
func NewLocationRepo(txManager *postgres.TxManager) *LocationRepo {
	return &LocationRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ location.Repository = (*LocationRepo)(nil)

// GetKunchinittu loads one kunchinittu by id.
func (r *LocationRepo) GetKunchinittu(ctx context.Context, kID id.ID) (*location.Kunchinittu, error) {
	var out location.Kunchinittu
	if err := r.getByID(ctx, "cat_kunchinittus",
		[]string{"id", "code", "name", "allotted_variety", "avg_rate", "rate_calculated_at", "created_at"},
		kID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWarehouse loads one warehouse by id.
func (r *LocationRepo) GetWarehouse(ctx context.Context, wID id.ID) (*location.Warehouse, error) {
	var out location.Warehouse
	if err := r.getByID(ctx, "cat_warehouses",
		[]string{"id", "code", "name", "created_at"},
		wID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOutturn loads one outturn by id.
func (r *LocationRepo) GetOutturn(ctx context.Context, oID id.ID) (*location.Outturn, error) {
	var out location.Outturn
	if err := r.getByID(ctx, "cat_outturns",
		[]string{"id", "code", "allotted_variety", "avg_rate", "rate_calculated_at", "cleared_at", "created_at"},
		oID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *LocationRepo) getByID(ctx context.Context, table string, columns []string, entityID id.ID, dst any) error {
	q := r.builder.Select(columns...).
		From(table).
		Where(squirrel.Eq{"id": entityID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), dst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return apperror.NewNotFound(table, entityID)
		}
		return apperror.NewStoreUnavailable(err).WithDetail("table", table)
	}
	return nil
}

// ClearedOutturns returns the clearing timestamp of every cleared outturn.
func (r *LocationRepo) ClearedOutturns(ctx context.Context) (map[id.ID]time.Time, error) {
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

// SetKunchinittuRate overwrites the kunchinittu rate snapshot. The caller
// rounds before calling; this is the persistence boundary.
func (r *LocationRepo) SetKunchinittuRate(ctx context.Context, kID id.ID, rate types.Rate, at time.Time) error {
	return r.setRate(ctx, "cat_kunchinittus", kID, rate, at)
}

// SetOutturnRate overwrites the outturn rate snapshot.
func (r *LocationRepo) SetOutturnRate(ctx context.Context, oID id.ID, rate types.Rate, at time.Time) error {
	return r.setRate(ctx, "cat_outturns", oID, rate, at)
}

func (r *LocationRepo) setRate(ctx context.Context, table string, entityID id.ID, rate types.Rate, at time.Time) error {
	q := r.builder.Update(table).
		Set("avg_rate", rate).
		Set("rate_calculated_at", at).
		Where(squirrel.Eq{"id": entityID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStoreUnavailable(err).WithDetail("table", table)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(table, entityID)
	}
	return nil
}

// MarkOutturnCleared stamps the terminal reconciliation time. Idempotent
// calls with the same timestamp succeed; a second clearing is rejected.
func (r *LocationRepo) MarkOutturnCleared(ctx context.Context, oID id.ID, at time.Time) error {
	q := r.builder.Update("cat_outturns").
		Set("cleared_at", at).
		Where(squirrel.Eq{"id": oID}).
		Where(squirrel.Or{
			squirrel.Eq{"cleared_at": nil},
			squirrel.Eq{"cleared_at": at},
		})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStoreUnavailable(err).WithDetail("table", "cat_outturns")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("outturn already cleared or not found")
	}
	return nil
}
