package rate

import (
	"context"
	"time"

	"milledger/internal/core/id"
	"milledger/internal/core/types"
)

// Transfer is the audit record for one rate propagation: which movement
// carried it, the edge, the rate moved, and the destination's rate before
// and after.
type Transfer struct {
	MovementID   id.ID      `json:"movementId"`
	SourceKey    string     `json:"source"`
	DestKey      string     `json:"destination"`
	SourceRate   types.Rate `json:"sourceRate"`
	PrevDestRate types.Rate `json:"prevDestRate"`
	NewDestRate  types.Rate `json:"newDestRate"`
	Bags         types.Bags `json:"bags"`
	OccurredAt   time.Time  `json:"occurredAt"`
}

// AuditLogger records rate transfers. Implementations derive the actor
// from context. Failures are the caller's to log; they must never fail the
// parent operation.
type AuditLogger interface {
	LogTransfer(ctx context.Context, t Transfer) error
}

// NopAuditLogger discards transfer records. Used when auditing is disabled
// and in tests.
type NopAuditLogger struct{}

func (NopAuditLogger) LogTransfer(context.Context, Transfer) error { return nil }
