package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingCompensator records every compensation and fails the ones listed.
type recordingCompensator struct {
	mu    sync.Mutex
	calls []Compensation
	fail  map[string]error
}

func (c *recordingCompensator) Compensate(_ context.Context, comp Compensation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, comp)
	return c.fail[comp.ResourceID]
}

func (c *recordingCompensator) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.calls))
	for i, comp := range c.calls {
		ids[i] = comp.ResourceID
	}
	return ids
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "ledger", "ledger.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendAll(t *testing.T, l *Ledger, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, l.Append(context.Background(), Entry{
			Step:         "create_" + id,
			ResourceType: "network",
			ResourceID:   id,
		}))
	}
}

func TestRollback_StrictReverseOrderDespiteFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := Begin(ctx, newFileStore(t), "corr-1")
	require.NoError(t, err)
	appendAll(t, l, "r1", "r2", "r3", "r4", "r5")

	comp := &recordingCompensator{fail: map[string]error{
		"r4": errors.New("409 conflict"),
		"r2": errors.New("500 internal"),
	}}
	report := l.Rollback(ctx, comp)

	assert.Equal(t, []string{"r5", "r4", "r3", "r2", "r1"}, comp.ids())
	assert.Equal(t, StatusPartiallyRolledBack, report.Status)
	assert.Equal(t, StatusPartiallyRolledBack, l.Status())
	require.Len(t, report.Errors, 2)
	assert.Equal(t, "r4", report.Errors[0].Entry.ResourceID)
	assert.Equal(t, "r2", report.Errors[1].Entry.ResourceID)
	assert.Equal(t, []Compensation{DeleteOf("network", "r4"), DeleteOf("network", "r2")}, report.ManualCleanup)
	assert.Len(t, report.Compensated, 3)
	assert.NoError(t, report.PersistErr)

	var rbErr *RollbackError
	require.ErrorAs(t, report.Err(), &rbErr)
}

func TestRollback_AllSucceed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := Begin(ctx, newFileStore(t), "corr-1")
	require.NoError(t, err)
	appendAll(t, l, "a", "b")
	require.NoError(t, l.Append(ctx, Entry{
		Step:         "add_user",
		ResourceType: "ssh_key",
		ResourceID:   "k",
		Compensation: Compensation{Action: ActionNone},
	}))

	comp := &recordingCompensator{}
	report := l.Rollback(ctx, comp)

	assert.Equal(t, StatusRolledBack, report.Status)
	assert.Equal(t, []string{"b", "a"}, comp.ids())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "k", report.Skipped[0].ResourceID)
	assert.Empty(t, report.ManualCleanup)
	assert.NoError(t, report.Err())
}

func TestRollback_IgnoresCallerCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	l, err := Begin(ctx, newFileStore(t), "corr-1")
	require.NoError(t, err)
	appendAll(t, l, "a")
	cancel()

	var sawErr error
	report := l.Rollback(ctx, CompensatorFunc(func(ctx context.Context, _ Compensation) error {
		sawErr = ctx.Err()
		return nil
	}))

	assert.NoError(t, sawErr)
	assert.Equal(t, StatusRolledBack, report.Status)
}

func TestRollback_PanickingCompensatorIsCollected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := Begin(ctx, newFileStore(t), "corr-1")
	require.NoError(t, err)
	appendAll(t, l, "a", "b")

	var order []string
	report := l.Rollback(ctx, CompensatorFunc(func(_ context.Context, c Compensation) error {
		order = append(order, c.ResourceID)
		if c.ResourceID == "b" {
			panic("boom")
		}
		return nil
	}))

	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, StatusPartiallyRolledBack, report.Status)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Error(), "panicked")
}

func TestStatus_Monotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := Begin(ctx, newFileStore(t), "corr-1")
	require.NoError(t, err)
	appendAll(t, l, "a")
	require.NoError(t, l.Commit(ctx))

	assert.ErrorIs(t, l.Commit(ctx), ErrFinalized)
	assert.ErrorIs(t, l.Append(ctx, Entry{ResourceType: "network", ResourceID: "b"}), ErrFinalized)

	comp := &recordingCompensator{}
	report := l.Rollback(ctx, comp)
	assert.Equal(t, StatusCommitted, report.Status)
	assert.Empty(t, comp.ids())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()
	all := []Status{StatusInProgress, StatusCommitted, StatusRolledBack, StatusPartiallyRolledBack}
	for _, from := range all {
		for _, to := range all {
			want := from == StatusInProgress && to != StatusInProgress
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestAppend_AssignsSeqAndDefaultCompensation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l, err := Begin(ctx, newFileStore(t), "corr-1", WithClock(func() time.Time { return at }), WithID("tx-fixed"))
	require.NoError(t, err)
	appendAll(t, l, "a", "b")

	tx := l.Snapshot()
	assert.Equal(t, "tx-fixed", tx.ID)
	require.Len(t, tx.Entries, 2)
	assert.Equal(t, 1, tx.Entries[0].Seq)
	assert.Equal(t, 2, tx.Entries[1].Seq)
	assert.Equal(t, at, tx.Entries[1].CreatedAt)
	assert.Equal(t, DeleteOf("network", "b"), tx.Entries[1].Compensation)
}

type failingStore struct {
	Store
	err error
}

func (s failingStore) Append(context.Context, Record) error {
	return s.err
}

func TestBegin_StoreUnavailable(t *testing.T) {
	t.Parallel()
	_, err := Begin(context.Background(), failingStore{err: errors.New("disk full")}, "corr-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func storeImplementations(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store { return newFileStore(t) },
		"badger": func(t *testing.T) Store {
			s, err := OpenBadgerStore(BadgerOptions{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_ReloadAndPending(t *testing.T) {
	t.Parallel()
	for name, open := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)

			committed, err := Begin(ctx, store, "corr-a")
			require.NoError(t, err)
			appendAll(t, committed, "a1")
			require.NoError(t, committed.Commit(ctx))

			crashed, err := Begin(ctx, store, "corr-b")
			require.NoError(t, err)
			appendAll(t, crashed, "b1", "b2", "b3")

			pending, err := store.Pending(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{crashed.ID()}, pending)

			tx, err := store.Load(ctx, crashed.ID())
			require.NoError(t, err)
			assert.Equal(t, "corr-b", tx.CorrelationID)
			assert.Equal(t, StatusInProgress, tx.Status)
			require.Len(t, tx.Entries, 3)
			for i, id := range []string{"b1", "b2", "b3"} {
				assert.Equal(t, id, tx.Entries[i].ResourceID)
				assert.Equal(t, i+1, tx.Entries[i].Seq)
			}

			tx, err = store.Load(ctx, committed.ID())
			require.NoError(t, err)
			assert.Equal(t, StatusCommitted, tx.Status)

			_, err = store.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRecover_RollsBackCrashedTransaction(t *testing.T) {
	t.Parallel()
	for name, open := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := open(t)

			l, err := Begin(ctx, store, "corr-crash")
			require.NoError(t, err)
			appendAll(t, l, "w", "i")
			txID := l.ID()

			// The process dies here. A new one recovers from the store.
			comp := &recordingCompensator{}
			report, err := Recover(ctx, store, txID, comp)
			require.NoError(t, err)
			assert.Equal(t, StatusRolledBack, report.Status)
			assert.Equal(t, []string{"i", "w"}, comp.ids())

			pending, err := store.Pending(ctx)
			require.NoError(t, err)
			assert.Empty(t, pending)

			_, err = Recover(ctx, store, txID, comp)
			assert.ErrorIs(t, err, ErrFinalized)
		})
	}
}

func TestRecover_SkipsAlreadyCompensatedEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFileStore(t)

	l, err := Begin(ctx, store, "corr")
	require.NoError(t, err)
	appendAll(t, l, "a", "b", "c")
	// Simulate a crash after "c" was deleted by the first rollback.
	require.NoError(t, store.Append(ctx, Record{TxID: l.ID(), Seq: 4, Kind: RecordCompensated, At: time.Now(), EntrySeq: 3}))

	comp := &recordingCompensator{}
	report, err := Recover(ctx, store, l.ID(), comp)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, comp.ids())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "c", report.Skipped[0].ResourceID)
}

func TestFileStore_IgnoresTornTrailingLine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFileStore(t)

	l, err := Begin(ctx, store, "corr")
	require.NoError(t, err)
	appendAll(t, l, "a")

	store.mu.Lock()
	_, err = store.file.WriteString(`{"tx_id":"` + l.ID() + `","seq":2,"kind":"ent`)
	store.mu.Unlock()
	require.NoError(t, err)

	tx, err := store.Load(ctx, l.ID())
	require.NoError(t, err)
	assert.Len(t, tx.Entries, 1)
}

func TestFileStore_ReopenAfterTornWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	store, err := OpenFileStore(path)
	require.NoError(t, err)
	crashed, err := Begin(ctx, store, "corr-crashed")
	require.NoError(t, err)
	appendAll(t, crashed, "a")
	_, err = store.file.WriteString(`{"tx_id":"` + crashed.ID() + `","seq":2,"kind":"ent`)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	next, err := Begin(ctx, store, "corr-next")
	require.NoError(t, err)
	appendAll(t, next, "b")

	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{crashed.ID(), next.ID()}, pending)

	tx, err := store.Load(ctx, crashed.ID())
	require.NoError(t, err)
	require.Len(t, tx.Entries, 1)
	assert.Equal(t, "a", tx.Entries[0].ResourceID)

	tx, err = store.Load(ctx, next.ID())
	require.NoError(t, err)
	require.Len(t, tx.Entries, 1)
	assert.Equal(t, "b", tx.Entries[0].ResourceID)

	comp := &recordingCompensator{}
	report, err := Recover(ctx, store, crashed.ID(), comp)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, report.Status)
	assert.Equal(t, []string{"a"}, comp.ids())
}

func TestFileStore_ConcurrentTransactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFileStore(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := Begin(ctx, store, fmt.Sprintf("corr-%d", i))
			if !assert.NoError(t, err) {
				return
			}
			for j := 0; j < 5; j++ {
				assert.NoError(t, l.Append(ctx, Entry{ResourceType: "network", ResourceID: fmt.Sprintf("%d-%d", i, j)}))
			}
			ids[i] = l.ID()
		}()
	}
	wg.Wait()

	for i, id := range ids {
		tx, err := store.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, tx.Entries, 5)
		assert.Equal(t, fmt.Sprintf("%d-4", i), tx.Entries[4].ResourceID)
	}
}
