// Package projector consumes admitted-movement outbox messages and drives
// the derived projections: rate propagation and balance cache invalidation.
// The ledger write that produced the message is already durable; everything
// here is replayable from the outbox.
package projector

import (
	"context"
	"encoding/json"
	"fmt"

	appctx "milledger/internal/core/context"
	"milledger/internal/infrastructure/storage/postgres"
	"milledger/internal/ledger/projection"
	"milledger/internal/ledger/rate"
	"milledger/pkg/logger"
)

// Handler applies projection side effects for admitted movements.
// Implements postgres.OutboxHandler.
type Handler struct {
	rates    *rate.Service
	balances *projection.Reader
}

// NewHandler creates the projection handler.
func NewHandler(rates *rate.Service, balances *projection.Reader) *Handler {
	return &Handler{rates: rates, balances: balances}
}

var _ postgres.OutboxHandler = (*Handler)(nil)

// Handle dispatches one outbox message. Unknown event types are skipped
// without error so new producers can deploy ahead of this worker.
func (h *Handler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	switch msg.EventType {
	case postgres.EventTypeMovementAdmitted:
		return h.handleAdmitted(ctx, msg)
	default:
		logger.Warn(ctx, "skipping unknown outbox event type",
			"event_type", msg.EventType,
			"message_id", msg.ID,
		)
		return nil
	}
}

func (h *Handler) handleAdmitted(ctx context.Context, msg *postgres.OutboxMessage) error {
	var payload postgres.MovementAdmittedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode admitted-movement payload: %w", err)
	}
	mv := &payload.Movement

	// Restore the admitting actor so audit entries written downstream
	// (the rate transfer trail) record who admitted the movement.
	if payload.Actor != nil {
		ctx = appctx.WithActor(ctx, payload.Actor)
	}

	if err := h.rates.HandleAdmitted(ctx, mv); err != nil {
		return fmt.Errorf("propagate rate for movement %s: %w", mv.ID, err)
	}

	h.balances.InvalidateForMovement(ctx, mv)

	logger.Debug(ctx, "projections applied",
		"movement_id", mv.ID,
		"kind", string(mv.Kind),
		"variety", mv.Variety,
	)
	return nil
}
