package breaker

import (
	"sync"
	"time"
)

// State is the state of a single circuit.
type State int

const (
	// Closed lets calls through and counts failures.
	Closed State = iota
	// Open rejects calls until the cooldown has elapsed.
	Open
	// HalfOpen admits a limited number of trial calls.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the thresholds for one circuit.
type Config struct {
	// FailureThreshold is the number of consecutive failures inside
	// RollingWindow that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RollingWindow bounds how far apart counted failures may be. A failure
	// arriving after the window has passed starts a new count.
	RollingWindow time.Duration `yaml:"rolling_window" json:"rolling_window"`
	// CooldownDuration is how long the circuit stays open.
	CooldownDuration time.Duration `yaml:"cooldown" json:"cooldown"`
	// HalfOpenTrialCount is the number of trial calls admitted while half-open.
	HalfOpenTrialCount int `yaml:"half_open_trials" json:"half_open_trials"`
}

// DefaultConfig returns the defaults applied to keys without their own config.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		RollingWindow:      time.Minute,
		CooldownDuration:   30 * time.Second,
		HalfOpenTrialCount: 1,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = d.RollingWindow
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = d.CooldownDuration
	}
	if c.HalfOpenTrialCount <= 0 {
		c.HalfOpenTrialCount = d.HalfOpenTrialCount
	}
	return c
}

// Snapshot is a point-in-time view of one circuit.
type Snapshot struct {
	Key                 string    `json:"key"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	WindowStart         time.Time `json:"window_start,omitzero"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	TrialsInFlight      int       `json:"trials_in_flight"`
	Config              Config    `json:"config"`
}

// circuit is the state machine for a single key. All fields are guarded by mu.
type circuit struct {
	key string
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	windowStart time.Time
	openedAt    time.Time
	trials      int
	// gen advances on every state change. Outcomes stamped with an older
	// generation belong to a finished period and are ignored.
	gen uint64
}

// admission is the ticket handed to an admitted call.
type admission struct {
	trial bool
	gen   uint64
}

// transition records a state change. Returned to the caller so the hook can
// run after mu is released.
type transition struct {
	from, to State
}

// admit decides whether a call may proceed. The returned admission is a trial
// when the call was let through a half-open circuit.
func (c *circuit) admit(now time.Time) (adm admission, tr *transition, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		return admission{gen: c.gen}, nil, nil
	case Open:
		if wait := c.cfg.CooldownDuration - now.Sub(c.openedAt); wait > 0 {
			return admission{}, nil, &CircuitOpenError{Key: c.key, State: Open, RetryAfter: wait}
		}
		tr = c.moveTo(HalfOpen, now)
		c.trials = 1
		return admission{trial: true, gen: c.gen}, tr, nil
	default:
		if c.trials >= c.cfg.HalfOpenTrialCount {
			return admission{}, nil, &CircuitOpenError{Key: c.key, State: HalfOpen}
		}
		c.trials++
		return admission{trial: true, gen: c.gen}, nil, nil
	}
}

func (c *circuit) onSuccess(now time.Time, adm admission) *transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if adm.gen != c.gen {
		return nil
	}
	if c.state == HalfOpen && adm.trial {
		return c.moveTo(Closed, now)
	}
	if c.state == Closed {
		c.failures = 0
		c.windowStart = time.Time{}
	}
	return nil
}

func (c *circuit) onFailure(now time.Time, adm admission) *transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if adm.gen != c.gen {
		return nil
	}
	switch c.state {
	case HalfOpen:
		if adm.trial {
			return c.moveTo(Open, now)
		}
	case Closed:
		if c.failures == 0 || now.Sub(c.windowStart) > c.cfg.RollingWindow {
			c.failures = 0
			c.windowStart = now
		}
		c.failures++
		if c.failures >= c.cfg.FailureThreshold {
			return c.moveTo(Open, now)
		}
	}
	return nil
}

// release gives back a trial slot for a call whose error was not counted.
func (c *circuit) release(adm admission) {
	if !adm.trial {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if adm.gen == c.gen && c.state == HalfOpen && c.trials > 0 {
		c.trials--
	}
}

// moveTo must be called with mu held.
func (c *circuit) moveTo(to State, now time.Time) *transition {
	from := c.state
	c.state = to
	c.trials = 0
	c.gen++
	switch to {
	case Open:
		c.openedAt = now
	case Closed:
		c.failures = 0
		c.windowStart = time.Time{}
	}
	return &transition{from: from, to: to}
}

func (c *circuit) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Key:                 c.key,
		State:               c.state,
		ConsecutiveFailures: c.failures,
		WindowStart:         c.windowStart,
		OpenedAt:            c.openedAt,
		TrialsInFlight:      c.trials,
		Config:              c.cfg,
	}
}
