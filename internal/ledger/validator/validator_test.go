package validator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milledger/internal/core/apperror"
	"milledger/internal/core/id"
	"milledger/internal/core/types"
	"milledger/internal/ledger/event"
	"milledger/internal/ledger/location"
)

// fakeBalances serves per-location stock maps keyed by the canonical
// location string. It records the as-of bounds it was queried with.
type fakeBalances struct {
	held map[string]map[string]types.Bags

	availableAsOf time.Time
	heldAsOf      time.Time
}

func (f *fakeBalances) AvailableAt(_ context.Context, loc event.LocationKey, variety string, asOf time.Time) (types.Bags, error) {
	f.availableAsOf = asOf
	return f.held[loc.String()][variety], nil
}

func (f *fakeBalances) HeldAt(_ context.Context, loc event.LocationKey, asOf time.Time) (map[string]types.Bags, error) {
	f.heldAsOf = asOf
	return f.held[loc.String()], nil
}

type fakeLocations struct {
	kunchinittus map[id.ID]*location.Kunchinittu
	outturns     map[id.ID]*location.Outturn
}

func (f *fakeLocations) GetKunchinittu(_ context.Context, kID id.ID) (*location.Kunchinittu, error) {
	if k, ok := f.kunchinittus[kID]; ok {
		return k, nil
	}
	return nil, apperror.NewNotFound("kunchinittu", kID)
}

func (f *fakeLocations) GetWarehouse(_ context.Context, wID id.ID) (*location.Warehouse, error) {
	return &location.Warehouse{ID: wID}, nil
}

func (f *fakeLocations) GetOutturn(_ context.Context, oID id.ID) (*location.Outturn, error) {
	if o, ok := f.outturns[oID]; ok {
		return o, nil
	}
	return nil, apperror.NewNotFound("outturn", oID)
}

func (f *fakeLocations) ClearedOutturns(context.Context) (map[id.ID]time.Time, error) {
	return nil, nil
}

func (f *fakeLocations) SetKunchinittuRate(context.Context, id.ID, types.Rate, time.Time) error {
	return nil
}

func (f *fakeLocations) SetOutturnRate(context.Context, id.ID, types.Rate, time.Time) error {
	return nil
}

func (f *fakeLocations) MarkOutturnCleared(context.Context, id.ID, time.Time) error {
	return nil
}

type fixture struct {
	validator *Validator
	balances  *fakeBalances
	locations *fakeLocations
}

func newFixture() *fixture {
	balances := &fakeBalances{held: map[string]map[string]types.Bags{}}
	locations := &fakeLocations{
		kunchinittus: map[id.ID]*location.Kunchinittu{},
		outturns:     map[id.ID]*location.Outturn{},
	}
	return &fixture{
		validator: New(balances, locations),
		balances:  balances,
		locations: locations,
	}
}

func (f *fixture) addKunchinittu(allotted string) event.LocationKey {
	kID, wID := id.New(), id.New()
	f.locations.kunchinittus[kID] = &location.Kunchinittu{ID: kID, AllottedVariety: allotted}
	return event.WarehouseLocation(kID, wID)
}

func (f *fixture) stock(loc event.LocationKey, variety string, bags types.Bags) {
	key := loc.String()
	if f.balances.held[key] == nil {
		f.balances.held[key] = map[string]types.Bags{}
	}
	f.balances.held[key][variety] = bags
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func validPurchase(dst event.LocationKey) *event.MovementEvent {
	return &event.MovementEvent{
		Kind:        event.KindPurchase,
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:     "IR64",
		Bags:        100,
		NetWeight:   types.MustWeight("7500"),
		Destination: &dst,
	}
}

func TestValidate_Shape(t *testing.T) {
	f := newFixture()
	dst := f.addKunchinittu("")

	tests := []struct {
		name   string
		mutate func(*event.MovementEvent)
		code   string
	}{
		{"missing variety", func(mv *event.MovementEvent) { mv.Variety = "" }, apperror.CodeValidation},
		{"missing date", func(mv *event.MovementEvent) { mv.Date = time.Time{} }, apperror.CodeInvalidInput},
		{"zero bags", func(mv *event.MovementEvent) { mv.Bags = 0 }, apperror.CodeValidation},
		{"negative bags", func(mv *event.MovementEvent) { mv.Bags = -5 }, apperror.CodeValidation},
		{"zero net weight on purchase", func(mv *event.MovementEvent) { mv.NetWeight = types.Zero() }, apperror.CodeValidation},
		{"missing destination", func(mv *event.MovementEvent) { mv.Destination = nil }, apperror.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mv := validPurchase(dst)
			tt.mutate(mv)
			assertCode(t, f.validator.Validate(context.Background(), mv), tt.code)
		})
	}
}

func TestValidate_ShiftingRequiresSource(t *testing.T) {
	f := newFixture()
	dst := f.addKunchinittu("")
	mv := &event.MovementEvent{
		Kind:        event.KindShifting,
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:     "IR64",
		Bags:        10,
		Destination: &dst,
	}
	assertCode(t, f.validator.Validate(context.Background(), mv), apperror.CodeInvalidInput)
}

func TestValidate_DestinationAllotment(t *testing.T) {
	f := newFixture()
	dst := f.addKunchinittu("SONA MASOORI")

	err := f.validator.Validate(context.Background(), validPurchase(dst))
	assertCode(t, err, apperror.CodeVarietyMismatch)

	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "SONA MASOORI", appErr.Details["allotted_variety"])
	assert.Equal(t, "IR64", appErr.Details["proposed_variety"])
}

func TestValidate_DestinationOccupancy(t *testing.T) {
	f := newFixture()
	dst := f.addKunchinittu("")
	f.stock(dst, "SONA MASOORI", 50)

	err := f.validator.Validate(context.Background(), validPurchase(dst))
	assertCode(t, err, apperror.CodeVarietyConflict)

	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, "SONA MASOORI", appErr.Details["held_variety"])
}

func TestValidate_SameVarietyOccupancyAllowed(t *testing.T) {
	f := newFixture()
	dst := f.addKunchinittu("")
	f.stock(dst, "IR64", 50)

	require.NoError(t, f.validator.Validate(context.Background(), validPurchase(dst)))
}

func TestValidate_SourceStockNotFound(t *testing.T) {
	f := newFixture()
	src := f.addKunchinittu("")
	dst := f.addKunchinittu("")

	mv := &event.MovementEvent{
		Kind:        event.KindShifting,
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:     "IR64",
		Bags:        10,
		Source:      &src,
		Destination: &dst,
	}
	assertCode(t, f.validator.Validate(context.Background(), mv), apperror.CodeSourceStockNotFound)
}

func TestValidate_InsufficientStockReportsAvailable(t *testing.T) {
	f := newFixture()
	src := f.addKunchinittu("")
	dst := f.addKunchinittu("")
	f.stock(src, "IR64", 60)

	mv := &event.MovementEvent{
		Kind:        event.KindShifting,
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:     "IR64",
		Bags:        70,
		Source:      &src,
		Destination: &dst,
	}
	err := f.validator.Validate(context.Background(), mv)
	assertCode(t, err, apperror.CodeInsufficientStock)

	available, ok := apperror.AvailableBags(err)
	require.True(t, ok)
	assert.Equal(t, int64(60), available)
}

func TestValidate_SufficientStockPasses(t *testing.T) {
	f := newFixture()
	src := f.addKunchinittu("")
	dst := f.addKunchinittu("")
	f.stock(src, "IR64", 60)

	mv := &event.MovementEvent{
		Kind:        event.KindShifting,
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:     "IR64",
		Bags:        60,
		Source:      &src,
		Destination: &dst,
	}
	require.NoError(t, f.validator.Validate(context.Background(), mv))
}

func TestValidate_StockChecksAreUnbounded(t *testing.T) {
	f := newFixture()
	src := f.addKunchinittu("")
	dst := f.addKunchinittu("")
	f.stock(src, "IR64", 60)

	// Post-dated business date: occupancy and sufficiency still fold every
	// admitted movement, not a dated prefix.
	mv := &event.MovementEvent{
		Kind:        event.KindShifting,
		Date:        time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC),
		Variety:     "IR64",
		Bags:        40,
		Source:      &src,
		Destination: &dst,
	}
	require.NoError(t, f.validator.Validate(context.Background(), mv))
	assert.True(t, f.balances.heldAsOf.IsZero(), "occupancy fold must carry no date bound")
	assert.True(t, f.balances.availableAsOf.IsZero(), "sufficiency fold must carry no date bound")
}

func TestValidate_OutturnVariety(t *testing.T) {
	f := newFixture()
	src := f.addKunchinittu("")
	f.stock(src, "IR64", 100)

	oID := id.New()
	f.locations.outturns[oID] = &location.Outturn{ID: oID, AllottedVariety: "SONA MASOORI"}
	outturn := event.OutturnLocation(oID)

	mv := &event.MovementEvent{
		Kind:        event.KindProductionShifting,
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:     "IR64",
		Bags:        50,
		Source:      &src,
		Destination: &outturn,
	}
	assertCode(t, f.validator.Validate(context.Background(), mv), apperror.CodeOutturnVarietyMismatch)
}

func TestValidate_LinkedOutturnPurchase(t *testing.T) {
	f := newFixture()

	oID := id.New()
	f.locations.outturns[oID] = &location.Outturn{ID: oID, AllottedVariety: "IR64"}

	mv := &event.MovementEvent{
		Kind:            event.KindPurchase,
		Date:            time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Variety:         "IR64",
		Bags:            50,
		NetWeight:       types.MustWeight("3750"),
		LinkedOutturnID: &oID,
	}
	require.NoError(t, f.validator.Validate(context.Background(), mv))

	mv.Variety = "SONA MASOORI"
	assertCode(t, f.validator.Validate(context.Background(), mv), apperror.CodeOutturnVarietyMismatch)
}
