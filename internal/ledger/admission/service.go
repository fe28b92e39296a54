// Package admission runs the movement intake pipeline: validate, persist,
// and publish - one logical transaction per proposed event. The ledger
// write is authoritative; rate and cache projections are driven
// asynchronously from the published message.
package admission

import (
	"context"
	"fmt"
	"sort"
	"time"

	"milledger/internal/core/apperror"
	appctx "milledger/internal/core/context"
	"milledger/internal/core/id"
	"milledger/internal/core/tx"
	"milledger/internal/ledger/event"
	"milledger/pkg/logger"
)

// Store is the write side of the event store adapter.
type Store interface {
	// InsertMovements persists proposed events. Must run inside the
	// admission transaction.
	InsertMovements(ctx context.Context, movements []event.MovementEvent) error

	// GetMovement loads one event by kind and id.
	GetMovement(ctx context.Context, kind event.MovementKind, mvID id.ID) (*event.MovementEvent, error)

	// UpdateApproval promotes the approval state. Content fields never change.
	UpdateApproval(ctx context.Context, kind event.MovementKind, mvID id.ID, state event.ApprovalState) error

	// SoftDelete tombstones an event. Tombstoned events are excluded from
	// every replay; their historical side effects are not rolled back.
	SoftDelete(ctx context.Context, kind event.MovementKind, mvID id.ID, at time.Time) error

	// LockLocation serializes same-location admissions for the duration
	// of the current transaction, closing the check-then-act race on
	// sufficiency validation.
	LockLocation(ctx context.Context, loc event.LocationKey) error
}

// Validator is the admission rule set (see the validator package).
type Validator interface {
	Validate(ctx context.Context, mv *event.MovementEvent) error
}

// Publisher emits the admitted-movement message that drives the rate and
// cache projections. Published within the admission transaction (outbox).
type Publisher interface {
	PublishAdmitted(ctx context.Context, mv *event.MovementEvent) error
}

// Service is the admission pipeline.
type Service struct {
	store     Store
	validator Validator
	publisher Publisher
	txManager tx.Manager
}

// NewService creates an admission service.
func NewService(store Store, validator Validator, publisher Publisher, txManager tx.Manager) *Service {
	return &Service{
		store:     store,
		validator: validator,
		publisher: publisher,
		txManager: txManager,
	}
}

// AdmitMovement validates and persists a proposed movement event. The
// initial approval state follows the submitter's role: staff submissions
// start pending, managers start approved, admins are admitted immediately.
// Validation runs inside the same transaction that persists the event,
// after locking the touched locations, so two concurrent shiftings from
// one source cannot both pass the sufficiency check.
func (s *Service) AdmitMovement(ctx context.Context, mv *event.MovementEvent) (id.ID, error) {
	if mv == nil {
		return id.Nil(), apperror.NewInvalidInput("movement is required")
	}

	mv.Normalize()
	if id.IsNil(mv.ID) {
		mv.ID = id.New()
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	mv.Approval = initialApproval(appctx.GetRole(ctx))

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.lockTouchedLocations(ctx, mv); err != nil {
			return err
		}
		if err := s.validator.Validate(ctx, mv); err != nil {
			return err
		}
		if err := s.store.InsertMovements(ctx, []event.MovementEvent{*mv}); err != nil {
			return fmt.Errorf("persist movement: %w", err)
		}
		if mv.IsAdmitted() {
			if err := s.publisher.PublishAdmitted(ctx, mv); err != nil {
				return fmt.Errorf("publish admitted movement: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return id.Nil(), err
	}

	logger.Info(ctx, "movement admitted",
		"movement_id", mv.ID,
		"kind", string(mv.Kind),
		"variety", mv.Variety,
		"bags", mv.Bags,
		"approval", string(mv.Approval),
	)
	return mv.ID, nil
}

// Approve promotes a pending movement to manager approval.
func (s *Service) Approve(ctx context.Context, kind event.MovementKind, mvID id.ID) error {
	return s.promote(ctx, kind, mvID, event.ApprovalPending, event.ApprovalApproved)
}

// AdminApprove promotes a manager-approved movement to the terminal state
// and publishes the admitted message that triggers rate propagation. The
// movement starts affecting stock only now, so the admission rules run
// again inside the promotion transaction: stock that was sufficient at
// submission may have been drawn down by events admitted since.
func (s *Service) AdminApprove(ctx context.Context, kind event.MovementKind, mvID id.ID) error {
	return s.promote(ctx, kind, mvID, event.ApprovalApproved, event.ApprovalAdminApproved)
}

func (s *Service) promote(ctx context.Context, kind event.MovementKind, mvID id.ID, from, to event.ApprovalState) error {
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		mv, err := s.store.GetMovement(ctx, kind, mvID)
		if err != nil {
			return err
		}
		if mv.DeletedAt != nil {
			return apperror.NewConflict("movement is deleted")
		}
		if mv.Approval != from {
			return apperror.NewConflict(
				fmt.Sprintf("movement is %s, expected %s", mv.Approval, from))
		}

		// Re-validate at the admission boundary under the same location
		// locks as submission. Two staged shiftings that each passed
		// against the same stock must not both be admitted.
		if to == event.ApprovalAdminApproved {
			if err := s.lockTouchedLocations(ctx, mv); err != nil {
				return err
			}
			if err := s.validator.Validate(ctx, mv); err != nil {
				return err
			}
		}

		if err := s.store.UpdateApproval(ctx, kind, mvID, to); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}

		if to == event.ApprovalAdminApproved {
			mv.Approval = to
			if err := s.publisher.PublishAdmitted(ctx, mv); err != nil {
				return fmt.Errorf("publish admitted movement: %w", err)
			}
		}
		return nil
	})
}

// SoftDelete tombstones a movement. Per the reconciliation policy, rates
// already propagated by this movement are not rolled back; a compensating
// admission is required to undo them.
func (s *Service) SoftDelete(ctx context.Context, kind event.MovementKind, mvID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.store.SoftDelete(ctx, kind, mvID, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "movement tombstoned", "movement_id", mvID, "kind", string(kind))
	return nil
}

// lockTouchedLocations takes per-location transaction locks in canonical
// key order to avoid lock inversion between concurrent admissions.
func (s *Service) lockTouchedLocations(ctx context.Context, mv *event.MovementEvent) error {
	var locs []event.LocationKey
	if mv.Source != nil && !mv.Source.IsZero() {
		locs = append(locs, *mv.Source)
	}
	if mv.Destination != nil && !mv.Destination.IsZero() {
		locs = append(locs, *mv.Destination)
	}
	if mv.LinkedOutturnID != nil && !id.IsNil(*mv.LinkedOutturnID) {
		locs = append(locs, event.OutturnLocation(*mv.LinkedOutturnID))
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].String() < locs[j].String() })
	for _, loc := range locs {
		if err := s.store.LockLocation(ctx, loc); err != nil {
			return fmt.Errorf("lock location %s: %w", loc, err)
		}
	}
	return nil
}

// initialApproval maps submitter role to the event's starting state.
func initialApproval(role appctx.Role) event.ApprovalState {
	switch role {
	case appctx.RoleAdmin:
		return event.ApprovalAdminApproved
	case appctx.RoleManager:
		return event.ApprovalApproved
	default:
		return event.ApprovalPending
	}
}
