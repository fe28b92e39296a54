// Package ledger_repo provides the PostgreSQL event store adapter: one
// append-only table per movement kind, mapped to the logical MovementEvent
// shape. The core depends only on that shape, never on the physical schema.
package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"milledger/internal/core/apperror"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/infrastructure/storage/postgres"
	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
)

// kindTables maps each movement kind to its append-only table.
var kindTables = map[event.MovementKind]string{
	event.KindPurchase:           "ldg_purchases",
	event.KindLoose:              "ldg_loose_arrivals",
	event.KindShifting:           "ldg_shiftings",
	event.KindProductionShifting: "ldg_production_shiftings",
	event.KindSale:               "ldg_sales",
	event.KindPalti:              "ldg_palti_conversions",
}

// movementColumns is the shared column layout of every kind table.
var movementColumns = []string{
	"id", "date", "variety", "bags",
	"gross_weight", "tare_weight", "net_weight",
	"src_kunchinittu_id", "src_warehouse_id", "src_outturn_id",
	"dst_kunchinittu_id", "dst_warehouse_id", "dst_outturn_id",
	"linked_outturn_id", "total_amount",
	"converted_bags", "shortage_weight",
	"approval_state", "created_at", "deleted_at",
}

// MovementRepo implements balance.EventStore and admission.Store.
type MovementRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewMovementRepo creates the movement event store adapter.
func NewMovementRepo(txManager *postgres.TxManager) *MovementRepo {
	return &MovementRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// movementRow is the physical row shape shared by all kind tables.
type movementRow struct {
	ID               id.ID            `db:"id"`
	Date             time.Time        `db:"date"`
	Variety          string           `db:"variety"`
	Bags             int64            `db:"bags"`
	GrossWeight      decimal.Decimal  `db:"gross_weight"`
	TareWeight       decimal.Decimal  `db:"tare_weight"`
	NetWeight        decimal.Decimal  `db:"net_weight"`
	SrcKunchinittuID *id.ID           `db:"src_kunchinittu_id"`
	SrcWarehouseID   *id.ID           `db:"src_warehouse_id"`
	SrcOutturnID     *id.ID           `db:"src_outturn_id"`
	DstKunchinittuID *id.ID           `db:"dst_kunchinittu_id"`
	DstWarehouseID   *id.ID           `db:"dst_warehouse_id"`
	DstOutturnID     *id.ID           `db:"dst_outturn_id"`
	LinkedOutturnID  *id.ID           `db:"linked_outturn_id"`
	TotalAmount      *decimal.Decimal `db:"total_amount"`
	ConvertedBags    int64            `db:"converted_bags"`
	ShortageWeight   decimal.Decimal  `db:"shortage_weight"`
	ApprovalState    string           `db:"approval_state"`
	CreatedAt        time.Time        `db:"created_at"`
	DeletedAt        *time.Time       `db:"deleted_at"`
}

func (r movementRow) toEvent(kind event.MovementKind) event.MovementEvent {
	mv := event.MovementEvent{
		ID:              r.ID,
		Kind:            kind,
		Date:            r.Date,
		Variety:         r.Variety,
		Bags:            types.Bags(r.Bags),
		GrossWeight:     r.GrossWeight,
		TareWeight:      r.TareWeight,
		NetWeight:       r.NetWeight,
		LinkedOutturnID: r.LinkedOutturnID,
		TotalAmount:     r.TotalAmount,
		ConvertedBags:   types.Bags(r.ConvertedBags),
		ShortageWeight:  r.ShortageWeight,
		Approval:        event.ApprovalState(r.ApprovalState),
		CreatedAt:       r.CreatedAt,
		DeletedAt:       r.DeletedAt,
	}
	if loc := locationFrom(r.SrcKunchinittuID, r.SrcWarehouseID, r.SrcOutturnID); loc != nil {
		mv.Source = loc
	}
	if loc := locationFrom(r.DstKunchinittuID, r.DstWarehouseID, r.DstOutturnID); loc != nil {
		mv.Destination = loc
	}
	return mv
}

func locationFrom(kID, wID, oID *id.ID) *event.LocationKey {
	switch {
	case oID != nil && !id.IsNil(*oID):
		loc := event.OutturnLocation(*oID)
		return &loc
	case kID != nil && wID != nil:
		loc := event.WarehouseLocation(*kID, *wID)
		return &loc
	}
	return nil
}

func rowValues(mv *event.MovementEvent) []any {
	var srcK, srcW, srcO, dstK, dstW, dstO *id.ID
	if mv.Source != nil {
		if mv.Source.IsOutturn() {
			srcO = &mv.Source.OutturnID
		} else {
			srcK, srcW = &mv.Source.KunchinittuID, &mv.Source.WarehouseID
		}
	}
	if mv.Destination != nil {
		if mv.Destination.IsOutturn() {
			dstO = &mv.Destination.OutturnID
		} else {
			dstK, dstW = &mv.Destination.KunchinittuID, &mv.Destination.WarehouseID
		}
	}
	return []any{
		mv.ID, mv.Date, mv.Variety, mv.Bags.Int64(),
		mv.GrossWeight, mv.TareWeight, mv.NetWeight,
		srcK, srcW, srcO,
		dstK, dstW, dstO,
		mv.LinkedOutturnID, mv.TotalAmount,
		mv.ConvertedBags.Int64(), mv.ShortageWeight,
		string(mv.Approval), mv.CreatedAt, mv.DeletedAt,
	}
}

// ListMovements performs filtered range scans over the kind tables and
// returns the union as logical events. The filter is the only source of
// predicates; no caller-supplied SQL fragments exist.
func (r *MovementRepo) ListMovements(ctx context.Context, f balance.MovementFilter) ([]event.MovementEvent, error) {
	kinds := f.Kinds
	if len(kinds) == 0 {
		kinds = event.Kinds
	}

	querier := r.txManager.GetQuerier(ctx)
	var out []event.MovementEvent
	for _, kind := range kinds {
		table, ok := kindTables[kind]
		if !ok {
			return nil, apperror.NewInvalidInput(fmt.Sprintf("unknown movement kind %q", kind))
		}

		q := r.builder.Select(movementColumns...).
			From(table).
			Where("deleted_at IS NULL").
			OrderBy("date", "created_at")
		q = applyMovementFilter(q, f)

		sql, args, err := q.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build query: %w", err)
		}

		var rows []movementRow
		if err := pgxscan.Select(ctx, querier, &rows, sql, args...); err != nil {
			return nil, apperror.NewStoreUnavailable(err).WithDetail("table", table)
		}
		for i := range rows {
			out = append(out, rows[i].toEvent(kind))
		}
	}
	return out, nil
}

// applyMovementFilter translates the typed predicate set into WHERE clauses.
func applyMovementFilter(q squirrel.SelectBuilder, f balance.MovementFilter) squirrel.SelectBuilder {
	if f.AdmittedOnly {
		q = q.Where(squirrel.Eq{"approval_state": string(event.ApprovalAdminApproved)})
	}
	if !f.Before.IsZero() {
		q = q.Where(squirrel.Lt{"date": f.Before})
	}
	if f.Variety != "" {
		q = q.Where(squirrel.Eq{"variety": f.Variety})
	}
	if f.Location != nil {
		loc := *f.Location
		if loc.IsOutturn() {
			q = q.Where(squirrel.Or{
				squirrel.Eq{"src_outturn_id": loc.OutturnID},
				squirrel.Eq{"dst_outturn_id": loc.OutturnID},
				squirrel.Eq{"linked_outturn_id": loc.OutturnID},
			})
		} else {
			q = q.Where(squirrel.Or{
				squirrel.And{
					squirrel.Eq{"src_kunchinittu_id": loc.KunchinittuID},
					squirrel.Eq{"src_warehouse_id": loc.WarehouseID},
				},
				squirrel.And{
					squirrel.Eq{"dst_kunchinittu_id": loc.KunchinittuID},
					squirrel.Eq{"dst_warehouse_id": loc.WarehouseID},
				},
			})
		}
	}
	return q
}

// InsertMovements persists events grouped by kind. Uses the COPY protocol
// inside a transaction, falling back to a plain insert outside one.
func (r *MovementRepo) InsertMovements(ctx context.Context, movements []event.MovementEvent) error {
	if len(movements) == 0 {
		return nil
	}

	byKind := make(map[event.MovementKind][]event.MovementEvent)
	for _, mv := range movements {
		byKind[mv.Kind] = append(byKind[mv.Kind], mv)
	}

	for kind, batch := range byKind {
		table, ok := kindTables[kind]
		if !ok {
			return apperror.NewInvalidInput(fmt.Sprintf("unknown movement kind %q", kind))
		}

		if tx := r.txManager.GetTx(ctx); tx != nil {
			inserter := postgres.NewBatchInserter(r.txManager)
			rows := make([][]any, 0, len(batch))
			for i := range batch {
				rows = append(rows, rowValues(&batch[i]))
			}
			if _, err := inserter.CopyFromSlice(ctx, table, movementColumns, rows); err != nil {
				return apperror.NewStoreUnavailable(err).WithDetail("table", table)
			}
			continue
		}

		q := r.builder.Insert(table).Columns(movementColumns...)
		for i := range batch {
			q = q.Values(rowValues(&batch[i])...)
		}
		sql, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
			return apperror.NewStoreUnavailable(err).WithDetail("table", table)
		}
	}
	return nil
}

// GetMovement loads one event by kind and id, including tombstoned rows so
// approval logic can report them precisely.
func (r *MovementRepo) GetMovement(ctx context.Context, kind event.MovementKind, mvID id.ID) (*event.MovementEvent, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, apperror.NewInvalidInput(fmt.Sprintf("unknown movement kind %q", kind))
	}

	q := r.builder.Select(movementColumns...).
		From(table).
		Where(squirrel.Eq{"id": mvID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row movementRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("movement", mvID)
		}
		return nil, apperror.NewStoreUnavailable(err).WithDetail("table", table)
	}

	mv := row.toEvent(kind)
	return &mv, nil
}

// UpdateApproval promotes the approval state. Content columns never change.
func (r *MovementRepo) UpdateApproval(ctx context.Context, kind event.MovementKind, mvID id.ID, state event.ApprovalState) error {
	table, ok := kindTables[kind]
	if !ok {
		return apperror.NewInvalidInput(fmt.Sprintf("unknown movement kind %q", kind))
	}

	q := r.builder.Update(table).
		Set("approval_state", string(state)).
		Where(squirrel.Eq{"id": mvID}).
		Where("deleted_at IS NULL")

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStoreUnavailable(err).WithDetail("table", table)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("movement", mvID)
	}
	return nil
}

// SoftDelete tombstones an event; the row stays in the log forever.
func (r *MovementRepo) SoftDelete(ctx context.Context, kind event.MovementKind, mvID id.ID, at time.Time) error {
	table, ok := kindTables[kind]
	if !ok {
		return apperror.NewInvalidInput(fmt.Sprintf("unknown movement kind %q", kind))
	}

	q := r.builder.Update(table).
		Set("deleted_at", at).
		Where(squirrel.Eq{"id": mvID}).
		Where("deleted_at IS NULL")

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStoreUnavailable(err).WithDetail("table", table)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("movement", mvID)
	}
	return nil
}

// LockLocation takes a transaction-scoped advisory lock on the location
// key, serializing concurrent admissions against the same stock pool.
func (r *MovementRepo) LockLocation(ctx context.Context, loc event.LocationKey) error {
	tx := r.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("LockLocation requires transaction context")
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", loc.String()); err != nil {
		return apperror.NewStoreUnavailable(err).WithDetail("location", loc.String())
	}
	return nil
}
