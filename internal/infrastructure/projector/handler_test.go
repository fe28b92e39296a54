package projector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milledger/internal/core/apperror"
	appctx "milledger/internal/core/context"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/infrastructure/storage/postgres"
	"milledger/internal/ledger/balance"
	"milledger/internal/ledger/event"
	"milledger/internal/ledger/location"
	"milledger/internal/ledger/projection"
	"milledger/internal/ledger/rate"
)

type fakeEventStore struct {
	movements []event.MovementEvent
}

func (s *fakeEventStore) ListMovements(_ context.Context, f balance.MovementFilter) ([]event.MovementEvent, error) {
	wantKind := map[event.MovementKind]bool{}
	for _, k := range f.Kinds {
		wantKind[k] = true
	}

	var out []event.MovementEvent
	for _, mv := range s.movements {
		if len(f.Kinds) > 0 && !wantKind[mv.Kind] {
			continue
		}
		if f.AdmittedOnly && mv.Approval != event.ApprovalAdminApproved {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (s *fakeEventStore) ListConsumptions(context.Context, balance.ConsumptionFilter) ([]event.ProductionConsumption, error) {
	return nil, nil
}

func (s *fakeEventStore) ClearedOutturns(context.Context) (map[id.ID]time.Time, error) {
	return map[id.ID]time.Time{}, nil
}

type fakeLocations struct {
	kunchinittuRates map[id.ID]types.Rate
}

func (f *fakeLocations) GetKunchinittu(_ context.Context, kID id.ID) (*location.Kunchinittu, error) {
	return &location.Kunchinittu{ID: kID, AvgRate: f.kunchinittuRates[kID]}, nil
}

func (f *fakeLocations) GetWarehouse(_ context.Context, wID id.ID) (*location.Warehouse, error) {
	return &location.Warehouse{ID: wID}, nil
}

func (f *fakeLocations) GetOutturn(_ context.Context, oID id.ID) (*location.Outturn, error) {
	return nil, apperror.NewNotFound("outturn", oID)
}

func (f *fakeLocations) ClearedOutturns(context.Context) (map[id.ID]time.Time, error) {
	return nil, nil
}

func (f *fakeLocations) SetKunchinittuRate(_ context.Context, kID id.ID, r types.Rate, _ time.Time) error {
	f.kunchinittuRates[kID] = r
	return nil
}

func (f *fakeLocations) SetOutturnRate(context.Context, id.ID, types.Rate, time.Time) error {
	return nil
}

func (f *fakeLocations) MarkOutturnCleared(context.Context, id.ID, time.Time) error {
	return nil
}

// captureAudit records the actor visible to the audit trail at log time.
type captureAudit struct {
	actorID   string
	transfers []rate.Transfer
}

func (a *captureAudit) LogTransfer(ctx context.Context, t rate.Transfer) error {
	a.actorID = appctx.GetActorID(ctx)
	a.transfers = append(a.transfers, t)
	return nil
}

func admittedMessage(t *testing.T, payload postgres.MovementAdmittedPayload) *postgres.OutboxMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &postgres.OutboxMessage{
		ID:        id.New(),
		EventType: postgres.EventTypeMovementAdmitted,
		Payload:   raw,
	}
}

func TestHandle_AuditSeesAdmittingActor(t *testing.T) {
	src := event.WarehouseLocation(id.New(), id.New())
	dst := event.WarehouseLocation(id.New(), id.New())

	amount := types.MustMoney("210000")
	store := &fakeEventStore{
		movements: []event.MovementEvent{{
			ID: id.New(), Kind: event.KindPurchase, Variety: "IR64",
			Date: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			Bags: 100, NetWeight: types.MustWeight("10000"), TotalAmount: &amount,
			Destination: &src, Approval: event.ApprovalAdminApproved,
		}},
	}
	audit := &captureAudit{}
	locations := &fakeLocations{kunchinittuRates: map[id.ID]types.Rate{}}
	rates := rate.NewService(store, locations, audit)
	balances := projection.NewReader(balance.NewEngine(store), nil)
	h := NewHandler(rates, balances)

	shifting := event.MovementEvent{
		ID: id.New(), Kind: event.KindShifting, Variety: "IR64",
		Date: time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC),
		Bags: 40, NetWeight: types.MustWeight("4000"),
		Source: &src, Destination: &dst,
		Approval: event.ApprovalAdminApproved,
	}
	msg := admittedMessage(t, postgres.MovementAdmittedPayload{
		Movement: shifting,
		Actor:    &appctx.ActorContext{ActorID: "admin-7", Role: appctx.RoleAdmin},
	})

	// The relay context carries no actor; the one in the payload must
	// reach the audit trail.
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, audit.transfers, 1)
	assert.Equal(t, "admin-7", audit.actorID, "audit records the admitting actor")
	assert.Equal(t, shifting.ID, audit.transfers[0].MovementID)
	assert.Equal(t, "1575", audit.transfers[0].NewDestRate.String())
}

func TestHandle_UnknownEventTypeSkipped(t *testing.T) {
	h := NewHandler(nil, nil)
	err := h.Handle(context.Background(), &postgres.OutboxMessage{
		ID:        id.New(),
		EventType: "SomethingElse",
	})
	require.NoError(t, err)
}
