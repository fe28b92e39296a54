package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"milledger/internal/ledger/rate"
)

// TransferAudit persists rate-transfer records through the audit service.
// Implements rate.AuditLogger.
type TransferAudit struct {
	audit *AuditService
}

// NewTransferAudit creates the rate-transfer audit adapter.
func NewTransferAudit(audit *AuditService) *TransferAudit {
	return &TransferAudit{audit: audit}
}

var _ rate.AuditLogger = (*TransferAudit)(nil)

// LogTransfer records one rate propagation against the movement that
// carried it.
func (a *TransferAudit) LogTransfer(ctx context.Context, t rate.Transfer) error {
	changes, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}
	return a.audit.Log(ctx, AuditEntry{
		EntityType: "RateTransfer",
		EntityID:   t.MovementID,
		Action:     AuditActionRateTransfer,
		Changes:    changes,
	})
}
