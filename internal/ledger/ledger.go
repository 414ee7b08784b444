// Package ledger records the resources created by a workflow run and undoes
// them when the run fails.
//
// Every change is written to a Store before it takes effect in memory, so a
// transaction interrupted by a crash can be reloaded and rolled back by a later
// process (see Recover). A Ledger belongs to a single workflow run and is not
// meant to be shared between runs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// ErrFinalized is returned when a finished transaction is modified.
var ErrFinalized = errors.New("transaction already finalized")

// DefaultRollbackTimeout bounds a rollback when no timeout is configured.
const DefaultRollbackTimeout = 5 * time.Minute

// Compensator executes compensations during rollback.
type Compensator interface {
	Compensate(ctx context.Context, c Compensation) error
}

// CompensatorFunc adapts a function to Compensator.
type CompensatorFunc func(ctx context.Context, c Compensation) error

func (f CompensatorFunc) Compensate(ctx context.Context, c Compensation) error {
	return f(ctx, c)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRollbackTimeout bounds the total time spent in Rollback.
func WithRollbackTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		l.rollbackTimeout = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithID sets the transaction id instead of generating one.
func WithID(id string) Option {
	return func(l *Ledger) {
		l.tx.ID = id
	}
}

// Ledger is the write side of one transaction.
type Ledger struct {
	store           Store
	rollbackTimeout time.Duration
	now             func() time.Time

	mu      sync.Mutex
	tx      Transaction
	nextRec int
}

// Begin starts a transaction and persists its begin record.
func Begin(ctx context.Context, store Store, correlationID string, opts ...Option) (*Ledger, error) {
	l := newLedger(store, opts)
	if l.tx.ID == "" {
		l.tx.ID = uuid.NewString()
	}
	now := l.now()
	rec := Record{TxID: l.tx.ID, Seq: 0, Kind: RecordBegin, At: now, CorrelationID: correlationID}
	if err := store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	l.nextRec = 1
	l.tx.CorrelationID = correlationID
	l.tx.Status = StatusInProgress
	l.tx.StartedAt = now

	logr.FromContextOrDiscard(ctx).V(1).Info("Transaction started", "tx", l.tx.ID, "correlationID", correlationID)
	return l, nil
}

func newLedger(store Store, opts []Option) *Ledger {
	l := &Ledger{
		store:           store,
		rollbackTimeout: DefaultRollbackTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID returns the transaction id.
func (l *Ledger) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tx.ID
}

// Status returns the current transaction status.
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tx.Status
}

// Snapshot returns a copy of the transaction.
func (l *Ledger) Snapshot() Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := l.tx
	tx.Entries = append([]Entry(nil), l.tx.Entries...)
	if l.tx.Compensated != nil {
		tx.Compensated = make(map[int]bool, len(l.tx.Compensated))
		for k, v := range l.tx.Compensated {
			tx.Compensated[k] = v
		}
	}
	return tx
}

// Append records a created resource. Seq is assigned by the ledger, and
// CreatedAt defaults to now. A zero Compensation means deleting the resource.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tx.Status.Terminal() {
		return fmt.Errorf("append to %s: %w", l.tx.ID, ErrFinalized)
	}
	e.Seq = len(l.tx.Entries) + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	if e.Compensation == (Compensation{}) {
		e.Compensation = DeleteOf(e.ResourceType, e.ResourceID)
	}

	if err := l.write(ctx, Record{Kind: RecordEntry, At: e.CreatedAt, Entry: &e}); err != nil {
		return fmt.Errorf("append to %s: %w", l.tx.ID, err)
	}
	l.tx.Entries = append(l.tx.Entries, e)
	return nil
}

// Commit marks the transaction committed.
func (l *Ledger) Commit(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.finish(ctx, StatusCommitted); err != nil {
		return fmt.Errorf("commit %s: %w", l.tx.ID, err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("Transaction committed", "tx", l.tx.ID, "entries", len(l.tx.Entries))
	return nil
}

// write persists rec with the next record sequence. Must hold mu.
func (l *Ledger) write(ctx context.Context, rec Record) error {
	rec.TxID = l.tx.ID
	rec.Seq = l.nextRec
	if err := l.store.Append(ctx, rec); err != nil {
		return err
	}
	l.nextRec++
	return nil
}

// finish persists a terminal status. Must hold mu.
func (l *Ledger) finish(ctx context.Context, status Status) error {
	if !l.tx.Status.CanTransition(status) {
		return fmt.Errorf("%w: status is %s", ErrFinalized, l.tx.Status)
	}
	now := l.now()
	if err := l.write(ctx, Record{Kind: RecordStatus, At: now, Status: status}); err != nil {
		return err
	}
	l.tx.Status = status
	l.tx.FinishedAt = now
	return nil
}
