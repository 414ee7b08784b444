// Package breaker isolates degraded remote services with per-key circuit
// breakers.
//
// A Registry owns one circuit per service key. Circuits never share a lock, so
// a failing service does not slow callers of healthy ones. The registry is an
// ordinary value: construct it once and pass it to whatever needs it.
package breaker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// TransitionFunc is called after a circuit changes state. It runs outside the
// circuit's lock and must not block for long.
type TransitionFunc func(key string, from, to State)

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithFailurePredicate decides which errors count as failures. Errors for
// which it returns false are passed through without affecting the circuit.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(r *Registry) {
		r.isFailure = fn
	}
}

// WithTransitionHook registers a callback for state changes.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(r *Registry) {
		r.hooks = append(r.hooks, fn)
	}
}

// CountsAsFailure is the default failure predicate. Every error counts except
// caller cancellation, which says nothing about the health of the service.
func CountsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Registry holds the circuits for all service keys.
type Registry struct {
	defaults  Config
	now       func() time.Time
	isFailure func(error) bool
	hooks     []TransitionFunc

	mu        sync.RWMutex
	circuits  map[string]*circuit
	overrides map[string]Config
}

// NewRegistry creates a registry. defaults apply to every key that has not
// been configured explicitly; zero fields fall back to DefaultConfig.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	r := &Registry{
		defaults:  defaults.normalized(),
		now:       time.Now,
		isFailure: CountsAsFailure,
		circuits:  make(map[string]*circuit),
		overrides: make(map[string]Config),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure sets the thresholds for key. An existing circuit keeps its state
// and uses the new thresholds from its next call on.
func (r *Registry) Configure(key string, cfg Config) {
	cfg = cfg.normalized()

	r.mu.Lock()
	r.overrides[key] = cfg
	c := r.circuits[key]
	r.mu.Unlock()

	if c != nil {
		c.mu.Lock()
		c.cfg = cfg
		c.mu.Unlock()
	}
}

// Call runs fn through the circuit for key. While the circuit is open fn is
// not invoked and a *CircuitOpenError is returned. Errors from fn are returned
// unchanged.
func (r *Registry) Call(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	c := r.circuit(key)

	adm, tr, err := c.admit(r.now())
	r.notify(key, tr)
	if err != nil {
		return err
	}

	callErr := fn(ctx)

	switch {
	case callErr == nil:
		r.notify(key, c.onSuccess(r.now(), adm))
	case r.isFailure(callErr):
		r.notify(key, c.onFailure(r.now(), adm))
	default:
		c.release(adm)
	}
	return callErr
}

// Status returns a snapshot of the circuit for key. Unknown keys report a
// closed circuit with the default config.
func (r *Registry) Status(key string) Snapshot {
	r.mu.RLock()
	c, ok := r.circuits[key]
	cfg, configured := r.overrides[key]
	r.mu.RUnlock()

	if ok {
		return c.snapshot()
	}
	if !configured {
		cfg = r.defaults
	}
	return Snapshot{Key: key, State: Closed, Config: cfg}
}

// Keys returns the keys that have a circuit, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.circuits))
	for k := range r.circuits {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

func (r *Registry) circuit(key string) *circuit {
	r.mu.RLock()
	c, ok := r.circuits[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.circuits[key]; ok {
		return c
	}
	cfg, ok := r.overrides[key]
	if !ok {
		cfg = r.defaults
	}
	c = &circuit{key: key, cfg: cfg, state: Closed}
	r.circuits[key] = c
	return c
}

func (r *Registry) notify(key string, tr *transition) {
	if tr == nil {
		return
	}
	for _, h := range r.hooks {
		h(key, tr.from, tr.to)
	}
}
