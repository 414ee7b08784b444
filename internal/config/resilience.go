package config

import (
	"os"
	"strconv"
	"time"

	"github.com/imamik/stackctl/internal/breaker"
	"github.com/imamik/stackctl/internal/util/retry"
)

// Resilience holds the retry, breaker and timeout settings shared by every
// workflow run. Values can be customized via environment variables.
type Resilience struct {
	Retry           retry.Config
	Breaker         breaker.Config
	StepTimeout     time.Duration // Bound on one step including retries
	RollbackTimeout time.Duration // Bound on a whole rollback
	AuditQueueSize  int           // Capacity of the audit queue
}

// LoadResilience loads resilience configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - STACKCTL_RETRY_MAX_ATTEMPTS (default: 6)
//   - STACKCTL_RETRY_BASE_DELAY (default: 1s)
//   - STACKCTL_RETRY_MAX_DELAY (default: 30s)
//   - STACKCTL_RETRY_MULTIPLIER (default: 2)
//   - STACKCTL_RETRY_JITTER (default: 0.2)
//   - STACKCTL_STEP_TIMEOUT (default: 5m)
//   - STACKCTL_ROLLBACK_TIMEOUT (default: 5m)
//   - STACKCTL_BREAKER_FAILURE_THRESHOLD (default: 5)
//   - STACKCTL_BREAKER_ROLLING_WINDOW (default: 1m)
//   - STACKCTL_BREAKER_COOLDOWN (default: 30s)
//   - STACKCTL_BREAKER_HALF_OPEN_TRIALS (default: 1)
//   - STACKCTL_AUDIT_QUEUE_SIZE (default: 1024)
func LoadResilience() *Resilience {
	rd := retry.DefaultConfig()
	bd := breaker.DefaultConfig()
	return &Resilience{
		Retry: retry.Config{
			MaxAttempts:  parsePositiveInt("STACKCTL_RETRY_MAX_ATTEMPTS", rd.MaxAttempts),
			InitialDelay: parseDuration("STACKCTL_RETRY_BASE_DELAY", rd.InitialDelay),
			MaxDelay:     parseDuration("STACKCTL_RETRY_MAX_DELAY", rd.MaxDelay),
			Multiplier:   parseFloat("STACKCTL_RETRY_MULTIPLIER", rd.Multiplier, 1, 100),
			Jitter:       parseFloat("STACKCTL_RETRY_JITTER", rd.Jitter, 0, 1),
		},
		Breaker: breaker.Config{
			FailureThreshold:   parsePositiveInt("STACKCTL_BREAKER_FAILURE_THRESHOLD", bd.FailureThreshold),
			RollingWindow:      parseDuration("STACKCTL_BREAKER_ROLLING_WINDOW", bd.RollingWindow),
			CooldownDuration:   parseDuration("STACKCTL_BREAKER_COOLDOWN", bd.CooldownDuration),
			HalfOpenTrialCount: parsePositiveInt("STACKCTL_BREAKER_HALF_OPEN_TRIALS", bd.HalfOpenTrialCount),
		},
		StepTimeout:     parseDuration("STACKCTL_STEP_TIMEOUT", 5*time.Minute),
		RollbackTimeout: parseDuration("STACKCTL_ROLLBACK_TIMEOUT", 5*time.Minute),
		AuditQueueSize:  parsePositiveInt("STACKCTL_AUDIT_QUEUE_SIZE", 1024),
	}
}

// Policy builds a retry policy from the retry settings.
func (r *Resilience) Policy() *retry.Policy {
	return retry.NewPolicy(retry.WithConfig(r.Retry))
}

// parseDuration parses a positive duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parsePositiveInt parses an integer greater than zero from an environment
// variable, falling back to defaultVal.
func parsePositiveInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i <= 0 {
		return defaultVal
	}

	return i
}

// parseFloat parses a float within [lo, hi] from an environment variable.
func parseFloat(envVar string, defaultVal, lo, hi float64) float64 {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < lo || f > hi {
		return defaultVal
	}

	return f
}
