package orchestration

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imamik/stackctl/internal/audit"
	"github.com/imamik/stackctl/internal/breaker"
)

const metricsNamespace = "stackctl"

// Metrics holds the Prometheus collectors for the orchestration layer. A nil
// *Metrics records nothing.
type Metrics struct {
	retryAttempts      *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerRejections  *prometheus.CounterVec
	workflowsTotal     *prometheus.CounterVec
	rollbacksTotal     *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	compensationsTotal *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total number of remote call attempts by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit state by service key (0 closed, 1 open, 2 half-open)",
			},
			[]string{"key"},
		),
		breakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "breaker",
				Name:      "rejections_total",
				Help:      "Total number of calls rejected by an open circuit",
			},
			[]string{"key"},
		),
		workflowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "workflow",
				Name:      "runs_total",
				Help:      "Total number of workflow runs by final transaction status",
			},
			[]string{"status"},
		),
		rollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "workflow",
				Name:      "rollbacks_total",
				Help:      "Total number of rollbacks by result",
			},
			[]string{"status"},
		),
		compensationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "workflow",
				Name:      "compensations_total",
				Help:      "Total number of compensations by resource type and result",
			},
			[]string{"resource_type", "result"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "workflow",
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps including retries",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"step", "state"},
		),
	}

	collectors := []prometheus.Collector{
		m.retryAttempts,
		m.breakerState,
		m.breakerRejections,
		m.workflowsTotal,
		m.rollbacksTotal,
		m.compensationsTotal,
		m.stepDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WatchAuditLogger exports the logger's drop counter.
func (m *Metrics) WatchAuditLogger(l *audit.Logger) error {
	if m == nil || l == nil {
		return nil
	}
	err := m.reg.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "audit",
			Name:      "dropped_events_total",
			Help:      "Total number of audit events dropped because the queue was full",
		},
		func() float64 { return float64(l.Dropped()) },
	))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// BreakerTransition is a breaker.TransitionFunc that updates the state gauge.
func (m *Metrics) BreakerTransition(key string, _, to breaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(key).Set(float64(to))
}

func (m *Metrics) recordAttempt(step, outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) recordRejection(key string) {
	if m == nil {
		return
	}
	m.breakerRejections.WithLabelValues(key).Inc()
}

func (m *Metrics) recordStep(step string, state StepState, seconds float64) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, string(state)).Observe(seconds)
}

func (m *Metrics) recordWorkflow(status string) {
	if m == nil {
		return
	}
	m.workflowsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) recordRollback(status string) {
	if m == nil {
		return
	}
	m.rollbacksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) recordCompensation(resourceType, result string) {
	if m == nil {
		return
	}
	m.compensationsTotal.WithLabelValues(resourceType, result).Inc()
}
