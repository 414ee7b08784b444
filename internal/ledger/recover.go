package ledger

import (
	"context"
	"fmt"
)

// Open reloads a transaction from store so it can be continued or rolled back.
func Open(ctx context.Context, store Store, txID string, opts ...Option) (*Ledger, error) {
	tx, err := store.Load(ctx, txID)
	if err != nil {
		return nil, err
	}
	l := newLedger(store, opts)
	l.tx = *tx
	l.nextRec = tx.nextRecord
	return l, nil
}

// Recover rolls back a transaction left in progress, typically by a process
// that crashed mid-workflow. Entries compensated before the crash are skipped.
func Recover(ctx context.Context, store Store, txID string, comp Compensator, opts ...Option) (RollbackReport, error) {
	l, err := Open(ctx, store, txID, opts...)
	if err != nil {
		return RollbackReport{}, fmt.Errorf("recover %s: %w", txID, err)
	}
	if st := l.Status(); st.Terminal() {
		return RollbackReport{TxID: txID, Status: st}, fmt.Errorf("recover %s: %w: status is %s", txID, ErrFinalized, st)
	}
	return l.Rollback(ctx, comp), nil
}
