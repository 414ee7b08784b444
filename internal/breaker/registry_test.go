package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errUnavailable = errors.New("503 service unavailable")

func failing(calls *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		calls.Add(1)
		return errUnavailable
	}
}

func succeeding(calls *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		calls.Add(1)
		return nil
	}
}

func testConfig() Config {
	return Config{
		FailureThreshold:   3,
		RollingWindow:      time.Minute,
		CooldownDuration:   10 * time.Second,
		HalfOpenTrialCount: 1,
	}
}

func TestCall_OpensAfterThresholdAndFailsFast(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	r := NewRegistry(testConfig(), WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		err := r.Call(ctx, "svcA", failing(&calls))
		require.ErrorIs(t, err, errUnavailable)
	}
	assert.Equal(t, Open, r.Status("svcA").State)

	err := r.Call(ctx, "svcA", failing(&calls))
	require.ErrorIs(t, err, ErrCircuitOpen)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "svcA", openErr.Key)
	assert.Equal(t, 10*time.Second, openErr.RetryAfter)
	assert.Equal(t, int32(3), calls.Load(), "operation must not run while open")

	clock.Advance(10 * time.Second)
	require.NoError(t, r.Call(ctx, "svcA", succeeding(&calls)))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, Closed, r.Status("svcA").State)
	assert.Zero(t, r.Status("svcA").ConsecutiveFailures)
}

func TestCall_StaysClosedBelowThreshold(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig(), WithClock(newFakeClock().Now))
	ctx := context.Background()
	var calls atomic.Int32

	_ = r.Call(ctx, "svc", failing(&calls))
	_ = r.Call(ctx, "svc", failing(&calls))
	require.NoError(t, r.Call(ctx, "svc", succeeding(&calls)))
	_ = r.Call(ctx, "svc", failing(&calls))
	_ = r.Call(ctx, "svc", failing(&calls))

	snap := r.Status("svc")
	assert.Equal(t, Closed, snap.State, "a success resets the consecutive count")
	assert.Equal(t, 2, snap.ConsecutiveFailures)
}

func TestCall_FailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	r := NewRegistry(testConfig(), WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int32

	_ = r.Call(ctx, "svc", failing(&calls))
	_ = r.Call(ctx, "svc", failing(&calls))
	clock.Advance(2 * time.Minute)
	_ = r.Call(ctx, "svc", failing(&calls))

	snap := r.Status("svc")
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	assert.Equal(t, clock.Now(), snap.WindowStart)
}

func TestCall_HalfOpenFailureRestartsCooldown(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	r := NewRegistry(testConfig(), WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_ = r.Call(ctx, "svc", failing(&calls))
	}
	clock.Advance(10 * time.Second)

	require.ErrorIs(t, r.Call(ctx, "svc", failing(&calls)), errUnavailable)
	snap := r.Status("svc")
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, clock.Now(), snap.OpenedAt)

	clock.Advance(5 * time.Second)
	require.ErrorIs(t, r.Call(ctx, "svc", succeeding(&calls)), ErrCircuitOpen)
	assert.Equal(t, int32(4), calls.Load())
}

func TestCall_HalfOpenTrialBudget(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cfg := testConfig()
	cfg.HalfOpenTrialCount = 2
	r := NewRegistry(cfg, WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_ = r.Call(ctx, "svc", failing(&calls))
	}
	clock.Advance(time.Minute)

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	blocking := func(context.Context) error {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Call(ctx, "svc", blocking)
		}()
	}
	<-entered
	<-entered

	assert.Equal(t, HalfOpen, r.Status("svc").State)
	assert.Equal(t, 2, r.Status("svc").TrialsInFlight)

	err := r.Call(ctx, "svc", succeeding(&calls))
	require.ErrorIs(t, err, ErrCircuitOpen, "third caller exceeds the trial budget")

	close(release)
	wg.Wait()
	assert.Equal(t, Closed, r.Status("svc").State)
	assert.Equal(t, int32(5), calls.Load())
}

func TestCall_StaleTrialOutcomeIsIgnored(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cfg := testConfig()
	cfg.HalfOpenTrialCount = 2
	r := NewRegistry(cfg, WithClock(clock.Now))
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_ = r.Call(ctx, "svc", failing(&calls))
	}
	clock.Advance(cfg.CooldownDuration)

	blockingUntil := func(release <-chan struct{}, entered chan<- struct{}) func(context.Context) error {
		return func(context.Context) error {
			entered <- struct{}{}
			<-release
			return nil
		}
	}

	// First half-open period: one trial hangs, the other fails and reopens.
	releaseOld, enteredOld := make(chan struct{}), make(chan struct{}, 1)
	oldDone := make(chan error, 1)
	go func() { oldDone <- r.Call(ctx, "svc", blockingUntil(releaseOld, enteredOld)) }()
	<-enteredOld
	require.ErrorIs(t, r.Call(ctx, "svc", failing(&calls)), errUnavailable)
	require.Equal(t, Open, r.Status("svc").State)

	// Second half-open period with its own trial in flight.
	clock.Advance(cfg.CooldownDuration)
	releaseNew, enteredNew := make(chan struct{}), make(chan struct{}, 1)
	newDone := make(chan error, 1)
	go func() { newDone <- r.Call(ctx, "svc", blockingUntil(releaseNew, enteredNew)) }()
	<-enteredNew
	require.Equal(t, HalfOpen, r.Status("svc").State)

	close(releaseOld)
	require.NoError(t, <-oldDone)
	snap := r.Status("svc")
	assert.Equal(t, HalfOpen, snap.State, "success from the previous half-open period must not close the circuit")
	assert.Equal(t, 1, snap.TrialsInFlight)

	close(releaseNew)
	require.NoError(t, <-newDone)
	assert.Equal(t, Closed, r.Status("svc").State)
}

func TestCall_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig(), WithClock(newFakeClock().Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := r.Call(ctx, "svc", func(context.Context) error {
			return fmt.Errorf("get network: %w", context.Canceled)
		})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, Closed, r.Status("svc").State)
	assert.Zero(t, r.Status("svc").ConsecutiveFailures)
}

func TestCall_CustomFailurePredicate(t *testing.T) {
	t.Parallel()
	notFound := errors.New("not found")
	r := NewRegistry(testConfig(),
		WithClock(newFakeClock().Now),
		WithFailurePredicate(func(err error) bool {
			return CountsAsFailure(err) && !errors.Is(err, notFound)
		}))

	for i := 0; i < 5; i++ {
		_ = r.Call(context.Background(), "svc", func(context.Context) error { return notFound })
	}
	assert.Equal(t, Closed, r.Status("svc").State)
}

func TestRegistry_PerKeyIsolation(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig(), WithClock(newFakeClock().Now))
	ctx := context.Background()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Call(ctx, "degraded", failing(&calls))
		}()
		go func() {
			defer wg.Done()
			_ = r.Call(ctx, "healthy", succeeding(&calls))
		}()
	}
	wg.Wait()

	assert.Equal(t, Open, r.Status("degraded").State)
	assert.Equal(t, Closed, r.Status("healthy").State)
	assert.Equal(t, []string{"degraded", "healthy"}, r.Keys())
}

func TestRegistry_ConfigurePerKey(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testConfig(), WithClock(newFakeClock().Now))
	r.Configure("fragile", Config{FailureThreshold: 1})
	ctx := context.Background()
	var calls atomic.Int32

	_ = r.Call(ctx, "fragile", failing(&calls))
	_ = r.Call(ctx, "sturdy", failing(&calls))

	assert.Equal(t, Open, r.Status("fragile").State)
	assert.Equal(t, Closed, r.Status("sturdy").State)
	assert.Equal(t, DefaultConfig().CooldownDuration, r.Status("fragile").Config.CooldownDuration)
}

func TestRegistry_StatusUnknownKey(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{})
	snap := r.Status("nobody")
	assert.Equal(t, Closed, snap.State)
	assert.Equal(t, DefaultConfig(), snap.Config)
	assert.Empty(t, r.Keys())
}

func TestRegistry_TransitionHook(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	var mu sync.Mutex
	var got []string
	r := NewRegistry(testConfig(), WithClock(clock.Now), WithTransitionHook(func(key string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, fmt.Sprintf("%s:%s->%s", key, from, to))
	}))
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_ = r.Call(ctx, "svc", failing(&calls))
	}
	clock.Advance(10 * time.Second)
	_ = r.Call(ctx, "svc", succeeding(&calls))

	assert.Equal(t, []string{
		"svc:closed->open",
		"svc:open->half-open",
		"svc:half-open->closed",
	}, got)
}
