package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milledger/internal/core/apperror"
	appctx "milledger/internal/core/context"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
	"milledger/internal/ledger/location"
	"milledger/internal/ledger/validator"
)

// fakeTxManager runs the function directly; rollback semantics are the
// store's concern, not the pipeline's.
type fakeTxManager struct {
	calls int
}

func (m *fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type fakeAdmissionStore struct {
	inserted []event.MovementEvent
	locked   []event.LocationKey
	byID     map[id.ID]*event.MovementEvent
	updated  map[id.ID]event.ApprovalState
	deleted  map[id.ID]time.Time

	insertErr error
}

func newFakeStore() *fakeAdmissionStore {
	return &fakeAdmissionStore{
		byID:    map[id.ID]*event.MovementEvent{},
		updated: map[id.ID]event.ApprovalState{},
		deleted: map[id.ID]time.Time{},
	}
}

func (s *fakeAdmissionStore) InsertMovements(_ context.Context, movements []event.MovementEvent) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, movements...)
	return nil
}

func (s *fakeAdmissionStore) GetMovement(_ context.Context, _ event.MovementKind, mvID id.ID) (*event.MovementEvent, error) {
	if mv, ok := s.byID[mvID]; ok {
		cp := *mv
		return &cp, nil
	}
	return nil, apperror.NewNotFound("movement", mvID)
}

func (s *fakeAdmissionStore) UpdateApproval(_ context.Context, _ event.MovementKind, mvID id.ID, state event.ApprovalState) error {
	s.updated[mvID] = state
	s.byID[mvID].Approval = state
	return nil
}

func (s *fakeAdmissionStore) SoftDelete(_ context.Context, _ event.MovementKind, mvID id.ID, at time.Time) error {
	if _, ok := s.byID[mvID]; !ok {
		return apperror.NewNotFound("movement", mvID)
	}
	s.deleted[mvID] = at
	return nil
}

func (s *fakeAdmissionStore) LockLocation(_ context.Context, loc event.LocationKey) error {
	s.locked = append(s.locked, loc)
	return nil
}

type fakeValidator struct {
	err    error
	called int
}

func (v *fakeValidator) Validate(context.Context, *event.MovementEvent) error {
	v.called++
	return v.err
}

type fakePublisher struct {
	published []event.MovementEvent
	err       error
}

func (p *fakePublisher) PublishAdmitted(_ context.Context, mv *event.MovementEvent) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, *mv)
	return nil
}

type harness struct {
	svc       *Service
	store     *fakeAdmissionStore
	validator *fakeValidator
	publisher *fakePublisher
	tx        *fakeTxManager
}

func newHarness() *harness {
	store := newFakeStore()
	validator := &fakeValidator{}
	publisher := &fakePublisher{}
	txm := &fakeTxManager{}
	return &harness{
		svc:       NewService(store, validator, publisher, txm),
		store:     store,
		validator: validator,
		publisher: publisher,
		tx:        txm,
	}
}

func asRole(role appctx.Role) context.Context {
	return appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID: "user-1",
		Role:    role,
	})
}

func proposedShifting() *event.MovementEvent {
	src := event.WarehouseLocation(id.New(), id.New())
	dst := event.WarehouseLocation(id.New(), id.New())
	return &event.MovementEvent{
		Kind:        event.KindShifting,
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:     " ir64 ",
		Bags:        40,
		NetWeight:   types.MustWeight("3000"),
		Source:      &src,
		Destination: &dst,
	}
}

func TestAdmitMovement_InitialApprovalByRole(t *testing.T) {
	tests := []struct {
		role      appctx.Role
		want      event.ApprovalState
		published bool
	}{
		{appctx.RoleStaff, event.ApprovalPending, false},
		{appctx.RoleManager, event.ApprovalApproved, false},
		{appctx.RoleAdmin, event.ApprovalAdminApproved, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			h := newHarness()
			mv := proposedShifting()

			mvID, err := h.svc.AdmitMovement(asRole(tt.role), mv)
			require.NoError(t, err)
			assert.False(t, id.IsNil(mvID))

			require.Len(t, h.store.inserted, 1)
			stored := h.store.inserted[0]
			assert.Equal(t, tt.want, stored.Approval)
			assert.Equal(t, "IR64", stored.Variety, "variety normalized before persistence")

			if tt.published {
				require.Len(t, h.publisher.published, 1)
				assert.Equal(t, mvID, h.publisher.published[0].ID)
			} else {
				assert.Empty(t, h.publisher.published)
			}
		})
	}
}

func TestAdmitMovement_NoActorDefaultsToStaff(t *testing.T) {
	h := newHarness()
	_, err := h.svc.AdmitMovement(context.Background(), proposedShifting())
	require.NoError(t, err)
	assert.Equal(t, event.ApprovalPending, h.store.inserted[0].Approval)
}

func TestAdmitMovement_LocksTouchedLocationsInOrder(t *testing.T) {
	h := newHarness()
	mv := proposedShifting()

	_, err := h.svc.AdmitMovement(asRole(appctx.RoleStaff), mv)
	require.NoError(t, err)

	require.Len(t, h.store.locked, 2)
	assert.Less(t, h.store.locked[0].String(), h.store.locked[1].String(),
		"locks must be taken in canonical key order")
	assert.Equal(t, 1, h.tx.calls)
	assert.Equal(t, 1, h.validator.called)
}

func TestAdmitMovement_RejectionPersistsNothing(t *testing.T) {
	h := newHarness()
	h.validator.err = apperror.NewInsufficientStock("K-W", "IR64", 70, 60)

	_, err := h.svc.AdmitMovement(asRole(appctx.RoleAdmin), proposedShifting())
	require.Error(t, err)

	available, ok := apperror.AvailableBags(err)
	require.True(t, ok)
	assert.Equal(t, int64(60), available)
	assert.Empty(t, h.store.inserted)
	assert.Empty(t, h.publisher.published)
}

func TestAdmitMovement_NilMovement(t *testing.T) {
	h := newHarness()
	_, err := h.svc.AdmitMovement(context.Background(), nil)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidInput, appErr.Code)
}

func TestAdmitMovement_StoreFailureSurfaces(t *testing.T) {
	h := newHarness()
	h.store.insertErr = apperror.NewStoreUnavailable(errors.New("connection refused"))

	_, err := h.svc.AdmitMovement(asRole(appctx.RoleStaff), proposedShifting())
	require.Error(t, err)
	assert.True(t, apperror.IsStoreUnavailable(err))
}

func TestApprove_PromotesPending(t *testing.T) {
	h := newHarness()
	mvID := id.New()
	h.store.byID[mvID] = &event.MovementEvent{
		ID: mvID, Kind: event.KindShifting, Approval: event.ApprovalPending,
	}

	require.NoError(t, h.svc.Approve(context.Background(), event.KindShifting, mvID))
	assert.Equal(t, event.ApprovalApproved, h.store.updated[mvID])
	assert.Empty(t, h.publisher.published, "manager approval does not publish")
	assert.Zero(t, h.validator.called, "manager approval does not affect stock, no re-check")
}

func TestAdminApprove_PublishesAdmitted(t *testing.T) {
	h := newHarness()
	mvID := id.New()
	h.store.byID[mvID] = &event.MovementEvent{
		ID: mvID, Kind: event.KindShifting, Approval: event.ApprovalApproved,
	}

	require.NoError(t, h.svc.AdminApprove(context.Background(), event.KindShifting, mvID))
	assert.Equal(t, event.ApprovalAdminApproved, h.store.updated[mvID])
	assert.Equal(t, 1, h.validator.called, "admission runs the rules again")

	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, event.ApprovalAdminApproved, h.publisher.published[0].Approval)
}

func TestPromote_WrongStateConflicts(t *testing.T) {
	h := newHarness()
	mvID := id.New()
	h.store.byID[mvID] = &event.MovementEvent{
		ID: mvID, Kind: event.KindShifting, Approval: event.ApprovalPending,
	}

	// Admin approval requires the manager step first.
	err := h.svc.AdminApprove(context.Background(), event.KindShifting, mvID)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
}

func TestPromote_DeletedMovementConflicts(t *testing.T) {
	h := newHarness()
	mvID := id.New()
	now := time.Now()
	h.store.byID[mvID] = &event.MovementEvent{
		ID: mvID, Kind: event.KindShifting, Approval: event.ApprovalPending, DeletedAt: &now,
	}

	err := h.svc.Approve(context.Background(), event.KindShifting, mvID)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
}

func TestSoftDelete(t *testing.T) {
	h := newHarness()
	mvID := id.New()
	h.store.byID[mvID] = &event.MovementEvent{
		ID: mvID, Kind: event.KindShifting, Approval: event.ApprovalAdminApproved,
	}

	require.NoError(t, h.svc.SoftDelete(context.Background(), event.KindShifting, mvID))
	_, deleted := h.store.deleted[mvID]
	assert.True(t, deleted)
}

func TestAdminApprove_RevalidatesBeforeAdmission(t *testing.T) {
	h := newHarness()
	mv := proposedShifting()
	mv.ID = id.New()
	mv.Variety = "IR64"
	mv.Approval = event.ApprovalApproved
	h.store.byID[mv.ID] = mv
	h.validator.err = apperror.NewInsufficientStock(mv.Source.String(), "IR64", 40, 20)

	err := h.svc.AdminApprove(context.Background(), event.KindShifting, mv.ID)
	require.Error(t, err)
	available, ok := apperror.AvailableBags(err)
	require.True(t, ok)
	assert.Equal(t, int64(20), available)

	assert.Empty(t, h.store.updated, "rejected promotion persists nothing")
	assert.Empty(t, h.publisher.published)
	assert.Len(t, h.store.locked, 2, "re-check runs under the same location locks")
	assert.Equal(t, 1, h.validator.called)
}

// stagedLedger backs the admission store and the balance engine with one
// shared movement map, so promotions are immediately visible to the
// sufficiency fold.
type stagedLedger struct {
	movements map[id.ID]*event.MovementEvent
}

func newStagedLedger() *stagedLedger {
	return &stagedLedger{movements: map[id.ID]*event.MovementEvent{}}
}

func (l *stagedLedger) InsertMovements(_ context.Context, movements []event.MovementEvent) error {
	for i := range movements {
		cp := movements[i]
		l.movements[cp.ID] = &cp
	}
	return nil
}

func (l *stagedLedger) GetMovement(_ context.Context, _ event.MovementKind, mvID id.ID) (*event.MovementEvent, error) {
	if mv, ok := l.movements[mvID]; ok {
		cp := *mv
		return &cp, nil
	}
	return nil, apperror.NewNotFound("movement", mvID)
}

func (l *stagedLedger) UpdateApproval(_ context.Context, _ event.MovementKind, mvID id.ID, state event.ApprovalState) error {
	l.movements[mvID].Approval = state
	return nil
}

func (l *stagedLedger) SoftDelete(_ context.Context, _ event.MovementKind, mvID id.ID, at time.Time) error {
	l.movements[mvID].DeletedAt = &at
	return nil
}

func (l *stagedLedger) LockLocation(context.Context, event.LocationKey) error { return nil }

func (l *stagedLedger) ListMovements(_ context.Context, f balance.MovementFilter) ([]event.MovementEvent, error) {
	var out []event.MovementEvent
	for _, mv := range l.movements {
		if mv.DeletedAt != nil {
			continue
		}
		if f.AdmittedOnly && mv.Approval != event.ApprovalAdminApproved {
			continue
		}
		if !f.Before.IsZero() && !mv.Date.Before(f.Before) {
			continue
		}
		if f.Variety != "" && mv.Variety != f.Variety {
			continue
		}
		if f.Location != nil && !touchesLocation(mv, *f.Location) {
			continue
		}
		out = append(out, *mv)
	}
	return out, nil
}

func touchesLocation(mv *event.MovementEvent, loc event.LocationKey) bool {
	for _, d := range mv.Deltas() {
		if d.Location == loc {
			return true
		}
	}
	return false
}

func (l *stagedLedger) ListConsumptions(context.Context, balance.ConsumptionFilter) ([]event.ProductionConsumption, error) {
	return nil, nil
}

func (l *stagedLedger) ClearedOutturns(context.Context) (map[id.ID]time.Time, error) {
	return map[id.ID]time.Time{}, nil
}

// openLocations serves unallotted kunchinittus for any id.
type openLocations struct{}

func (openLocations) GetKunchinittu(_ context.Context, kID id.ID) (*location.Kunchinittu, error) {
	return &location.Kunchinittu{ID: kID}, nil
}

func (openLocations) GetWarehouse(_ context.Context, wID id.ID) (*location.Warehouse, error) {
	return &location.Warehouse{ID: wID}, nil
}

func (openLocations) GetOutturn(_ context.Context, oID id.ID) (*location.Outturn, error) {
	return nil, apperror.NewNotFound("outturn", oID)
}

func (openLocations) ClearedOutturns(context.Context) (map[id.ID]time.Time, error) {
	return nil, nil
}

func (openLocations) SetKunchinittuRate(context.Context, id.ID, types.Rate, time.Time) error {
	return nil
}

func (openLocations) SetOutturnRate(context.Context, id.ID, types.Rate, time.Time) error {
	return nil
}

func (openLocations) MarkOutturnCleared(context.Context, id.ID, time.Time) error {
	return nil
}

func TestAdminApprove_StagedApprovalsCannotOverdraw(t *testing.T) {
	ledger := newStagedLedger()
	balances := balance.NewEngine(ledger)
	svc := NewService(ledger, validator.New(balances, openLocations{}), &fakePublisher{}, &fakeTxManager{})

	src := event.WarehouseLocation(id.New(), id.New())
	dstA := event.WarehouseLocation(id.New(), id.New())
	dstB := event.WarehouseLocation(id.New(), id.New())
	day := func(d int) time.Time { return time.Date(2026, 7, d, 0, 0, 0, 0, time.UTC) }

	// 60 admitted bags at the source.
	_, err := svc.AdmitMovement(asRole(appctx.RoleAdmin), &event.MovementEvent{
		Kind: event.KindPurchase, Date: day(1), Variety: "IR64",
		Bags: 60, NetWeight: types.MustWeight("4500"), Destination: &src,
	})
	require.NoError(t, err)

	// Both shifts pass submission validation: neither is admitted yet, so
	// each sees the full 60 bags.
	shift := func(dst event.LocationKey) id.ID {
		mvID, err := svc.AdmitMovement(asRole(appctx.RoleStaff), &event.MovementEvent{
			Kind: event.KindShifting, Date: day(2), Variety: "IR64",
			Bags: 40, NetWeight: types.MustWeight("3000"),
			Source: &src, Destination: &dst,
		})
		require.NoError(t, err)
		return mvID
	}
	first, second := shift(dstA), shift(dstB)

	ctx := context.Background()
	require.NoError(t, svc.Approve(ctx, event.KindShifting, first))
	require.NoError(t, svc.Approve(ctx, event.KindShifting, second))
	require.NoError(t, svc.AdminApprove(ctx, event.KindShifting, first))

	// Only 20 bags remain admitted at the source; admitting the second
	// shift would drive the pool negative.
	err = svc.AdminApprove(ctx, event.KindShifting, second)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInsufficientStock, appErr.Code)
	available, ok := apperror.AvailableBags(err)
	require.True(t, ok)
	assert.Equal(t, int64(20), available)

	remaining, err := balances.AvailableAt(ctx, src, "IR64", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, types.Bags(20), remaining, "source stock never goes negative")
}
