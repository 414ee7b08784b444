// Package audit keeps an append-only, correlation-tracked record of everything
// the orchestration layer does.
//
// Callers hand events to a Logger, which never blocks them: events go into a
// bounded queue and a single writer goroutine numbers them and writes them to
// a Sink. When the queue is full the incoming event is dropped and counted.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// DefaultQueueSize is the queue capacity used when none is configured.
const DefaultQueueSize = 1024

// ErrQueryUnsupported is returned by Query when the sink cannot be read back.
var ErrQueryUnsupported = errors.New("audit sink does not support queries")

// Sink persists events. Write is only ever called from the writer goroutine.
type Sink interface {
	Write(ev *Event) error
	Sync() error
	Close() error
}

// Reader is implemented by sinks whose contents can be read back.
type Reader interface {
	ReadAll(ctx context.Context) ([]Event, error)
}

// sequenced is implemented by sinks that continue an existing log.
type sequenced interface {
	LastSeq() uint64
}

type item struct {
	ev  Event
	ack chan error
}

// Option configures a Logger.
type Option func(*Logger)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithLogger mirrors every written event to log.
func WithLogger(log logr.Logger) Option {
	return func(l *Logger) {
		l.log = log
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// Logger is safe for concurrent use.
type Logger struct {
	sink      Sink
	log       logr.Logger
	now       func() time.Time
	queueSize int

	queue chan item
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped     atomic.Uint64
	writeErrors atomic.Uint64
	seq         uint64 // owned by the writer goroutine
}

// New starts a Logger writing to sink.
func New(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink:      sink,
		log:       logr.Discard(),
		now:       time.Now,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if s, ok := sink.(sequenced); ok {
		l.seq = s.LastSeq()
	}
	l.queue = make(chan item, l.queueSize)
	go l.run()
	return l
}

// Record queues ev for writing. It never blocks and never fails; when the
// queue is full or the logger is closed the event is dropped.
func (l *Logger) Record(ev Event) {
	if ev.Fields != nil {
		cp := make(map[string]any, len(ev.Fields))
		for k, v := range ev.Fields {
			cp[k] = v
		}
		ev.Fields = cp
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- item{ev: ev}:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was full
// or the logger was closed.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// WriteErrors returns the number of events the sink failed to persist.
func (l *Logger) WriteErrors() uint64 {
	return l.writeErrors.Load()
}

// Flush waits until every event queued before the call has been written and
// the sink synced.
func (l *Logger) Flush(ctx context.Context) error {
	ack := make(chan error, 1)

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	select {
	case l.queue <- item{ack: ack}:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query returns the persisted events for correlationID in write order.
func (l *Logger) Query(ctx context.Context, correlationID string) ([]Event, error) {
	r, ok := l.sink.(Reader)
	if !ok {
		return nil, ErrQueryUnsupported
	}
	if err := l.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush audit log: %w", err)
	}
	all, err := r.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	var out []Event
	for _, ev := range all {
		if ev.CorrelationID == correlationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Close drains the queue, stops the writer and closes the sink. Events
// recorded after Close are dropped.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		return fmt.Errorf("drain audit queue: %w", ctx.Err())
	}
	return l.sink.Close()
}

func (l *Logger) run() {
	defer close(l.done)
	for it := range l.queue {
		if it.ack != nil {
			it.ack <- l.sink.Sync()
			continue
		}
		l.write(it.ev)
	}
	if err := l.sink.Sync(); err != nil {
		l.log.Error(err, "Failed to sync audit sink")
	}
}

func (l *Logger) write(ev Event) {
	l.seq++
	ev.Seq = l.seq
	ev.Time = l.now().UTC()

	if err := l.sink.Write(&ev); err != nil {
		l.seq--
		l.writeErrors.Add(1)
		l.log.Error(err, "Failed to write audit event", "seq", ev.Seq, "type", ev.Type)
		return
	}
	l.mirror(ev)
}

func (l *Logger) mirror(ev Event) {
	kv := make([]any, 0, 8+2*len(ev.Fields))
	kv = append(kv, "seq", ev.Seq, "correlationID", ev.CorrelationID, "type", ev.Type, "component", ev.Component)
	for k, v := range ev.Fields {
		kv = append(kv, k, v)
	}
	switch ev.Severity {
	case SeverityError:
		l.log.Error(nil, ev.Message, kv...)
	case SeverityWarning:
		l.log.Info(ev.Message, kv...)
	default:
		l.log.V(1).Info(ev.Message, kv...)
	}
}
