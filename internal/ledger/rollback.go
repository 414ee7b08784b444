package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// RollbackError describes a compensation that failed. It is collected in a
// RollbackReport, never returned on its own.
type RollbackError struct {
	Entry Entry
	Err   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("compensate %s (step %q): %v", e.Entry.Compensation, e.Entry.Step, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// RollbackReport accounts for every entry visited by Rollback.
type RollbackReport struct {
	TxID   string `json:"tx_id"`
	Status Status `json:"status"`
	// Compensated lists entries undone by this rollback, in the order they
	// were undone.
	Compensated []Entry `json:"compensated,omitempty"`
	// Skipped lists entries with nothing to undo or already undone earlier.
	Skipped []Entry          `json:"skipped,omitempty"`
	Errors  []*RollbackError `json:"-"`
	// ManualCleanup lists what an operator still has to remove.
	ManualCleanup []Compensation `json:"manual_cleanup,omitempty"`
	// PersistErr is set when the outcome could not be written to the store.
	PersistErr error         `json:"-"`
	Duration   time.Duration `json:"duration"`
}

// Err joins all compensation and persistence failures.
func (r RollbackReport) Err() error {
	errs := make([]error, 0, len(r.Errors)+1)
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	if r.PersistErr != nil {
		errs = append(errs, r.PersistErr)
	}
	return errors.Join(errs...)
}

// Rollback undoes every entry in strict reverse order of insertion, one
// attempt each. A failed compensation is recorded and the walk continues.
// Rollback never returns an error; the report carries the outcome.
//
// Caller cancellation does not stop a rollback. It runs on a context detached
// from ctx and bounded by the rollback timeout.
//
// Calling Rollback on a finalized transaction does nothing and reports its
// current status.
func (l *Ledger) Rollback(ctx context.Context, comp Compensator) RollbackReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.now()
	report := RollbackReport{TxID: l.tx.ID, Status: l.tx.Status}
	if l.tx.Status.Terminal() {
		return report
	}

	log := logr.FromContextOrDiscard(ctx).WithValues("tx", l.tx.ID)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.rollbackTimeout)
	defer cancel()

	log.Info("Rolling back transaction", "entries", len(l.tx.Entries))

	for i := len(l.tx.Entries) - 1; i >= 0; i-- {
		e := l.tx.Entries[i]
		if e.Compensation.Action == ActionNone || l.tx.Compensated[e.Seq] {
			report.Skipped = append(report.Skipped, e)
			continue
		}

		err := compensate(rctx, comp, e.Compensation)
		if err != nil {
			log.Error(err, "Compensation failed", "step", e.Step, "compensation", e.Compensation.String())
			report.Errors = append(report.Errors, &RollbackError{Entry: e, Err: err})
			report.ManualCleanup = append(report.ManualCleanup, e.Compensation)
			l.persist(rctx, &report, Record{Kind: RecordCompensationFailed, At: l.now(), EntrySeq: e.Seq, Error: err.Error()})
			continue
		}

		log.V(1).Info("Compensated", "step", e.Step, "compensation", e.Compensation.String())
		report.Compensated = append(report.Compensated, e)
		if l.tx.Compensated == nil {
			l.tx.Compensated = make(map[int]bool)
		}
		l.tx.Compensated[e.Seq] = true
		l.persist(rctx, &report, Record{Kind: RecordCompensated, At: l.now(), EntrySeq: e.Seq})
	}

	final := StatusRolledBack
	if len(report.Errors) > 0 {
		final = StatusPartiallyRolledBack
	}
	if err := l.finish(rctx, final); err != nil {
		report.PersistErr = errors.Join(report.PersistErr, fmt.Errorf("persist %s: %w", final, err))
		// The in-memory status still reflects what happened.
		l.tx.Status = final
		l.tx.FinishedAt = l.now()
	}
	report.Status = final
	report.Duration = l.now().Sub(start)

	log.Info("Rollback finished", "status", final, "compensated", len(report.Compensated),
		"failed", len(report.Errors), "skipped", len(report.Skipped))
	return report
}

func (l *Ledger) persist(ctx context.Context, report *RollbackReport, rec Record) {
	if err := l.write(ctx, rec); err != nil {
		report.PersistErr = errors.Join(report.PersistErr, fmt.Errorf("persist %s: %w", rec.Kind, err))
	}
}

// compensate runs one compensation, turning a panic into an error.
func compensate(ctx context.Context, comp Compensator, c Compensation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panicked: %v", r)
		}
	}()
	return comp.Compensate(ctx, c)
}
