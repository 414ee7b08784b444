package orchestration

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/imamik/stackctl/internal/audit"
	"github.com/imamik/stackctl/internal/ledger"
)

// Recover rolls back a transaction that an interrupted run left in progress.
// Entries compensated before the interruption are skipped. Compensations are
// audited under the transaction's correlation id, like a regular rollback.
func (e *Engine) Recover(ctx context.Context, txID string) (ledger.RollbackReport, error) {
	tx, err := e.store.Load(ctx, txID)
	if err != nil {
		return ledger.RollbackReport{}, fmt.Errorf("recover %s: %w", txID, err)
	}
	if tx.Status.Terminal() {
		return ledger.RollbackReport{TxID: txID, Status: tx.Status},
			fmt.Errorf("recover %s: %w: status is %s", txID, ledger.ErrFinalized, tx.Status)
	}

	log := logr.FromContextOrDiscard(ctx).WithValues("correlationID", tx.CorrelationID, "transaction", txID)
	events := e.audit.For(tx.CorrelationID, component)
	events.Warn(audit.RollbackStarted, "Recovering interrupted transaction",
		"transaction", txID, "entries", len(tx.Entries))
	log.Info("Recovering interrupted transaction", "entries", len(tx.Entries))

	report, err := ledger.Recover(ctx, e.store, txID, auditingCompensator{
		inner:   e.compensator,
		events:  events,
		metrics: e.metrics,
	}, ledger.WithRollbackTimeout(e.rollbackTimeout))
	if err != nil {
		return report, err
	}
	e.finishRollback(events, report)
	log.Info("Recovery finished", "status", report.Status, "compensated", len(report.Compensated))
	return report, nil
}

// Pending lists transactions that never reached a terminal status.
func (e *Engine) Pending(ctx context.Context) ([]string, error) {
	return e.store.Pending(ctx)
}
