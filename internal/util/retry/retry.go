package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Outcome is the classification of a single attempt.
type Outcome int

const (
	// Success means the desired state was reached.
	Success Outcome = iota
	// TransientFailure means another attempt may succeed.
	TransientFailure
	// PermanentFailure means retrying cannot help.
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransientFailure:
		return "transient"
	case PermanentFailure:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classifier maps an operation error to an Outcome. Returning Success for a
// non-nil error tells the policy the error already means "done" (for example
// a delete that finds nothing left to delete).
type Classifier func(err error) Outcome

// Operation is a unit of remote work. It must honor ctx.
type Operation func(ctx context.Context) error

// Status summarizes how an Execute call ended.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPermanent Status = "permanent"
	StatusExhausted Status = "exhausted"
	StatusTimedOut  Status = "timed_out"
)

// Attempt records one invocation of an operation.
type Attempt struct {
	Number    int           `json:"number"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	// Backoff is the delay scheduled before the next attempt, zero when
	// there is none.
	Backoff time.Duration `json:"backoff,omitempty"`

	Err error `json:"-"`
}

// Result is the outcome of an Execute call with its full attempt history.
type Result struct {
	Operation string
	Status    Status
	Attempts  []Attempt
	// Err is nil on success. Permanent failures match IsPermanent, deadline
	// failures match ErrTimeout.
	Err error
}

// Succeeded reports whether the operation reached the desired state.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter adds a random delay in [0, Jitter*delay) to every backoff.
	Jitter float64
	// OnAttempt is called once per attempt, after its outcome is known.
	OnAttempt func(Attempt)
}

// DefaultConfig returns the defaults used when no options are given.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  6,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Option is a functional option for retry configuration.
type Option func(*Config)

// Policy executes operations with bounded retries. A Policy is safe for
// concurrent use; per-call options never modify it.
type Policy struct {
	cfg   Config
	float func() float64
}

// NewPolicy creates a policy from DefaultConfig and the given options.
func NewPolicy(opts ...Option) *Policy {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Policy{cfg: cfg, float: rand.Float64}
}

// Config returns a copy of the policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Execute runs op until it succeeds, fails permanently, runs out of attempts
// or ctx ends. The overall deadline is the deadline of ctx. Extra options
// apply to this call only.
func (p *Policy) Execute(ctx context.Context, name string, op Operation, classify Classifier, opts ...Option) Result {
	cfg := p.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	if classify == nil {
		classify = DefaultClassifier
	}
	maxAttempts := max(cfg.MaxAttempts, 1)

	res := Result{Operation: name}
	var lastErr error

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return res.timedOut(n-1, lastErr, err)
		}

		started := time.Now()
		err := op(ctx)
		attempt := Attempt{Number: n, StartedAt: started, Duration: time.Since(started)}

		if err == nil {
			attempt.Outcome = Success
			res.record(cfg, attempt)
			res.Status = StatusSucceeded
			return res
		}

		attempt.Outcome = classify(err)
		if attempt.Outcome == Success {
			res.record(cfg, attempt)
			res.Status = StatusSucceeded
			return res
		}
		attempt.Err = err
		attempt.Error = err.Error()
		lastErr = err

		// The attempt failed because the deadline hit while it was running.
		if ctxErr := ctx.Err(); ctxErr != nil && attempt.Outcome != PermanentFailure {
			res.record(cfg, attempt)
			return res.timedOut(n, lastErr, ctxErr)
		}

		if attempt.Outcome == PermanentFailure {
			res.record(cfg, attempt)
			res.Status = StatusPermanent
			if !IsPermanent(err) {
				err = Permanent(err)
			}
			res.Err = fmt.Errorf("%s: permanent failure on attempt %d: %w", name, n, err)
			return res
		}

		if n >= maxAttempts {
			res.record(cfg, attempt)
			res.Status = StatusExhausted
			res.Err = fmt.Errorf("%s: failed after %d attempts: %w", name, n, err)
			return res
		}

		delay := p.backoff(cfg, n)
		attempt.Backoff = delay
		res.record(cfg, attempt)

		// Don't start a sleep that is certain to overrun the deadline.
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return res.timedOut(n, lastErr, context.DeadlineExceeded)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res.timedOut(n, lastErr, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Result) record(cfg Config, a Attempt) {
	r.Attempts = append(r.Attempts, a)
	if cfg.OnAttempt != nil {
		cfg.OnAttempt(a)
	}
}

func (r *Result) timedOut(attempts int, lastErr, ctxErr error) Result {
	r.Status = StatusTimedOut
	r.Err = &TimeoutError{Operation: r.Operation, Attempts: attempts, LastErr: lastErr, Err: ctxErr}
	return *r
}

// backoff returns min(MaxDelay, InitialDelay*Multiplier^(n-1)) plus jitter
// in [0, Jitter*capped).
func (p *Policy) backoff(cfg Config, n int) time.Duration {
	capped := Delay(cfg, n)
	if cfg.Jitter <= 0 || capped <= 0 {
		return capped
	}
	return capped + time.Duration(p.float()*cfg.Jitter*float64(capped))
}

// Delay returns the capped exponential delay after attempt n, without jitter.
func Delay(cfg Config, n int) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(cfg.InitialDelay) * math.Pow(mult, float64(n-1))
	if cfg.MaxDelay > 0 && (d > float64(cfg.MaxDelay) || math.IsInf(d, 0)) {
		return cfg.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		c.MaxAttempts = n
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxAttempts = n + 1
	}
}

// WithInitialDelay sets the initial delay between retries.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		c.InitialDelay = d
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MaxDelay = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		c.Multiplier = m
	}
}

// WithJitter sets the jitter fraction. Zero disables jitter.
func WithJitter(f float64) Option {
	return func(c *Config) {
		c.Jitter = f
	}
}

// WithAttemptHook registers a callback invoked once per attempt.
func WithAttemptHook(fn func(Attempt)) Option {
	return func(c *Config) {
		c.OnAttempt = fn
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}
