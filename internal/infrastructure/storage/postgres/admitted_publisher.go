package postgres

import (
	"context"

	appctx "milledger/internal/core/context"
	"milledger/internal/ledger/admission"
	"milledger/internal/ledger/event"
)

// EventTypeMovementAdmitted is the outbox event emitted when a movement
// reaches the admin-approved state.
const EventTypeMovementAdmitted = "MovementAdmitted"

// MovementAdmittedPayload is the outbox payload for an admitted movement.
// It carries the full logical event so projection handlers need no extra
// read to dispatch, plus the admitting actor: the relay runs outside any
// request, and downstream audit entries must record who admitted the
// movement, not the worker's empty context.
type MovementAdmittedPayload struct {
	Movement event.MovementEvent  `json:"movement"`
	Actor    *appctx.ActorContext `json:"actor,omitempty"`
}

// AdmittedPublisher bridges the admission pipeline to the transactional
// outbox. Implements admission.Publisher.
type AdmittedPublisher struct {
	outbox *OutboxPublisher
}

// NewAdmittedPublisher creates the outbox-backed publisher.
func NewAdmittedPublisher(outbox *OutboxPublisher) *AdmittedPublisher {
	return &AdmittedPublisher{outbox: outbox}
}

var _ admission.Publisher = (*AdmittedPublisher)(nil)

// PublishAdmitted writes the admitted-movement message inside the
// admission transaction.
func (p *AdmittedPublisher) PublishAdmitted(ctx context.Context, mv *event.MovementEvent) error {
	return p.outbox.Publish(ctx, newAdmittedEvent(ctx, mv))
}

// newAdmittedEvent captures the movement and the admitting actor from the
// admission context.
func newAdmittedEvent(ctx context.Context, mv *event.MovementEvent) DomainEvent {
	return DomainEvent{
		AggregateType: "Movement",
		AggregateID:   mv.ID,
		EventType:     EventTypeMovementAdmitted,
		Payload: MovementAdmittedPayload{
			Movement: *mv,
			Actor:    appctx.GetActor(ctx),
		},
	}
}
