package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "milledger/internal/core/context"
	"milledger/internal/core/id"
	"milledger/internal/ledger/event"
)

func TestNewAdmittedEvent_CarriesActor(t *testing.T) {
	mv := &event.MovementEvent{
		ID:       id.New(),
		Kind:     event.KindShifting,
		Variety:  "IR64",
		Approval: event.ApprovalAdminApproved,
	}
	ctx := appctx.WithActor(context.Background(), &appctx.ActorContext{
		ActorID: "admin-7",
		Role:    appctx.RoleAdmin,
	})

	de := newAdmittedEvent(ctx, mv)
	assert.Equal(t, EventTypeMovementAdmitted, de.EventType)
	assert.Equal(t, mv.ID, de.AggregateID)

	payload, ok := de.Payload.(MovementAdmittedPayload)
	require.True(t, ok)
	assert.Equal(t, mv.ID, payload.Movement.ID)
	require.NotNil(t, payload.Actor, "admitting actor rides in the payload")
	assert.Equal(t, "admin-7", payload.Actor.ActorID)
}

func TestNewAdmittedEvent_NoActor(t *testing.T) {
	mv := &event.MovementEvent{ID: id.New(), Kind: event.KindPurchase}

	de := newAdmittedEvent(context.Background(), mv)
	payload, ok := de.Payload.(MovementAdmittedPayload)
	require.True(t, ok)
	assert.Nil(t, payload.Actor)
}
