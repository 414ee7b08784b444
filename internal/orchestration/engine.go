package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imamik/stackctl/internal/audit"
	"github.com/imamik/stackctl/internal/breaker"
	"github.com/imamik/stackctl/internal/ledger"
	"github.com/imamik/stackctl/internal/util/retry"
	"github.com/imamik/stackctl/pkg/remote"
)

const (
	// DefaultStepTimeout bounds a step, including retries, when neither the
	// step nor the engine configures one.
	DefaultStepTimeout = 5 * time.Minute

	tracerName = "github.com/imamik/stackctl/internal/orchestration"
	component  = "engine"
)

// Config wires an Engine. Store and Compensator are required.
type Config struct {
	Store       ledger.Store
	Compensator ledger.Compensator

	// Policy defaults to retry.NewPolicy().
	Policy *retry.Policy
	// Breakers defaults to a registry with breaker.DefaultConfig. Pass a
	// shared registry so concurrent runs see the same circuits.
	Breakers *breaker.Registry
	// Audit may be nil, in which case events are only logged.
	Audit   *audit.Logger
	Metrics *Metrics
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	StepTimeout     time.Duration
	RollbackTimeout time.Duration
}

// Engine executes workflows. It is safe for concurrent use; each call to
// ExecuteWorkflow owns its own transaction.
type Engine struct {
	store           ledger.Store
	compensator     ledger.Compensator
	policy          *retry.Policy
	breakers        *breaker.Registry
	audit           *audit.Logger
	metrics         *Metrics
	tracer          trace.Tracer
	stepTimeout     time.Duration
	rollbackTimeout time.Duration
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestration: ledger store is required")
	}
	if cfg.Compensator == nil {
		return nil, errors.New("orchestration: compensator is required")
	}
	e := &Engine{
		store:           cfg.Store,
		compensator:     cfg.Compensator,
		policy:          cfg.Policy,
		breakers:        cfg.Breakers,
		audit:           cfg.Audit,
		metrics:         cfg.Metrics,
		stepTimeout:     cfg.StepTimeout,
		rollbackTimeout: cfg.RollbackTimeout,
	}
	if e.policy == nil {
		e.policy = retry.NewPolicy()
	}
	if e.breakers == nil {
		e.breakers = breaker.NewRegistry(breaker.DefaultConfig(),
			breaker.WithTransitionHook(e.metrics.BreakerTransition),
			breaker.WithTransitionHook(AuditBreakerTransitions(e.audit)),
		)
	}
	if e.stepTimeout <= 0 {
		e.stepTimeout = DefaultStepTimeout
	}
	if e.rollbackTimeout <= 0 {
		e.rollbackTimeout = ledger.DefaultRollbackTimeout
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	e.tracer = tp.Tracer(tracerName)
	return e, nil
}

// AuditBreakerTransitions returns a breaker hook that records every state
// change. Transitions are not tied to a run, so the events carry no
// correlation id.
func AuditBreakerTransitions(l *audit.Logger) breaker.TransitionFunc {
	em := l.For("", "breaker")
	return func(key string, from, to breaker.State) {
		sev := em.Info
		if to == breaker.Open {
			sev = em.Warn
		}
		sev(audit.BreakerTransition, "Circuit state changed", "key", key, "from", from, "to", to)
	}
}

// BreakerStatus returns the circuit snapshot for a service key.
func (e *Engine) BreakerStatus(key string) breaker.Snapshot {
	return e.breakers.Status(key)
}

// AuditQuery returns the persisted audit events of one run in order.
func (e *Engine) AuditQuery(ctx context.Context, correlationID string) ([]audit.Event, error) {
	if e.audit == nil {
		return nil, audit.ErrQueryUnsupported
	}
	return e.audit.Query(ctx, correlationID)
}

// run is the state of one ExecuteWorkflow call.
type run struct {
	engine *Engine
	ledger *ledger.Ledger
	events audit.Emitter
	log    logr.Logger
	result *WorkflowResult
}

// ExecuteWorkflow runs steps in order. An empty correlationID is replaced by
// a generated one. The returned error is non-nil only when the run could not
// start; every other outcome is described by the result.
func (e *Engine) ExecuteWorkflow(ctx context.Context, correlationID string, steps []Step) (*WorkflowResult, error) {
	if err := validateSteps(steps); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "workflow.Execute",
		trace.WithAttributes(
			attribute.String("workflow.correlation_id", correlationID),
			attribute.Int("workflow.steps", len(steps)),
		),
	)
	defer span.End()

	log := logr.FromContextOrDiscard(ctx).WithValues("correlationID", correlationID)
	ctx = logr.NewContext(ctx, log)

	l, err := ledger.Begin(ctx, e.store, correlationID, ledger.WithRollbackTimeout(e.rollbackTimeout))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger unavailable")
		return nil, err
	}
	span.SetAttributes(attribute.String("workflow.transaction_id", l.ID()))

	r := &run{
		engine: e,
		ledger: l,
		events: e.audit.For(correlationID, component),
		log:    log,
		result: &WorkflowResult{
			CorrelationID: correlationID,
			TransactionID: l.ID(),
			Steps:         make([]StepResult, len(steps)),
			StartedAt:     time.Now(),
		},
	}
	for i, s := range steps {
		r.result.Steps[i] = StepResult{Name: s.Name, ServiceKey: s.ServiceKey, Optional: s.Optional, State: StepPending}
	}

	r.events.Info(audit.WorkflowStarted, "Workflow started", "transaction", l.ID(), "steps", len(steps))
	log.Info("Workflow started", "transaction", l.ID(), "steps", len(steps))

	failure := r.execute(ctx, steps)
	if failure == nil {
		failure = r.commit(ctx)
	}
	if failure != nil {
		r.rollback(ctx, failure)
	}

	res := r.result
	res.TransactionStatus = l.Status()
	res.Duration = time.Since(res.StartedAt)
	if res.TransactionStatus == ledger.StatusCommitted {
		res.Status = WorkflowSucceeded
		span.SetStatus(codes.Ok, "")
	} else {
		res.Status = WorkflowFailed
		res.Err = failure
		res.Error = failure.Error()
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
	}
	span.SetAttributes(attribute.String("workflow.transaction_status", string(res.TransactionStatus)))
	e.metrics.recordWorkflow(string(res.TransactionStatus))

	r.events.Info(audit.WorkflowFinished, "Workflow finished",
		"status", res.Status, "transaction_status", res.TransactionStatus, "duration", res.Duration)
	log.Info("Workflow finished", "status", res.Status, "transaction", res.TransactionStatus,
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// execute runs the steps and returns the error that failed the workflow, or
// nil when every required step succeeded.
func (r *run) execute(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		sr := &r.result.Steps[i]

		if err := ctx.Err(); err != nil {
			sr.State = StepFailed
			sr.Err = fmt.Errorf("workflow cancelled before step started: %w", err)
			sr.Error = sr.Err.Error()
			r.result.FailedStep = step.Name
			return sr.Err
		}

		err := r.runStep(ctx, step, sr)
		if err == nil {
			continue
		}
		if step.Optional && ctx.Err() == nil {
			sr.State = StepSkipped
			r.events.Warn(audit.StepSkipped, "Optional step failed, skipping", "step", step.Name, "error", err)
			r.log.Info("Optional step failed, skipping", "step", step.Name, "error", err.Error())
			continue
		}
		sr.State = StepFailed
		r.result.FailedStep = step.Name
		return fmt.Errorf("step %q: %w", step.Name, err)
	}
	return nil
}

// runStep executes one step through breaker and retry policy and, on success,
// records it in the ledger. It leaves sr in Running or Succeeded; the caller
// decides between Failed and Skipped.
func (r *run) runStep(ctx context.Context, step Step, sr *StepResult) error {
	e := r.engine
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stepCtx, span := e.tracer.Start(stepCtx, "workflow.Step",
		trace.WithAttributes(
			attribute.String("step.name", step.Name),
			attribute.String("step.service_key", step.ServiceKey),
			attribute.Bool("step.optional", step.Optional),
		),
	)
	defer span.End()

	sr.State = StepRunning
	sr.StartedAt = time.Now()
	r.events.Info(audit.StepStarted, "Step started", "step", step.Name, "service", step.ServiceKey)

	info := Run{CorrelationID: r.result.CorrelationID, TransactionID: r.result.TransactionID, Step: step.Name}
	var created remote.Resource
	var attempts []retry.Attempt

	hook := func(a retry.Attempt) {
		attempts = append(attempts, a)
		e.metrics.recordAttempt(step.Name, a.Outcome.String())
		kv := []any{"step", step.Name, "attempt", a.Number, "outcome", a.Outcome.String(), "duration", a.Duration}
		if a.Backoff > 0 {
			kv = append(kv, "backoff", a.Backoff)
		}
		if a.Outcome == retry.Success {
			r.events.Info(audit.RetryAttempt, "Attempt succeeded", kv...)
		} else {
			r.events.Error(audit.RetryAttempt, a.Err, "Attempt failed", kv...)
		}
	}

	err := e.breakers.Call(stepCtx, step.ServiceKey, func(ctx context.Context) error {
		res := e.policy.Execute(ctx, step.Name, func(ctx context.Context) error {
			out, err := step.Execute(ctx, info)
			if err == nil {
				created = out
			}
			return err
		}, step.Classifier, retry.WithAttemptHook(hook))
		return res.Err
	})
	sr.Attempts = attempts

	if err == nil {
		err = r.record(ctx, step, created)
	}

	sr.Duration = time.Since(sr.StartedAt)
	if err != nil {
		sr.Err = err
		sr.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if breaker.IsOpen(err) {
			e.metrics.recordRejection(step.ServiceKey)
			r.events.Warn(audit.BreakerRejected, "Circuit open, call rejected", "step", step.Name, "service", step.ServiceKey)
		}
		state := StepFailed
		if step.Optional && ctx.Err() == nil {
			state = StepSkipped
		}
		e.metrics.recordStep(step.Name, state, sr.Duration.Seconds())
		r.events.Error(audit.StepFailed, err, "Step failed", "step", step.Name, "optional", step.Optional, "attempts", len(attempts))
		r.log.Error(err, "Step failed", "step", step.Name, "optional", step.Optional, "attempts", len(attempts))
		return err
	}

	sr.State = StepSucceeded
	sr.Resource = &created
	span.SetStatus(codes.Ok, "")
	e.metrics.recordStep(step.Name, StepSucceeded, sr.Duration.Seconds())
	r.events.Info(audit.StepSucceeded, "Step succeeded", "step", step.Name, "resource", created.String(), "attempts", len(attempts))
	r.log.V(1).Info("Step succeeded", "step", step.Name, "resource", created.String())
	return nil
}

// record appends a created resource to the ledger. If that fails the resource
// is not tracked, so it is compensated right away.
func (r *run) record(ctx context.Context, step Step, res remote.Resource) error {
	entry := ledger.Entry{
		Step:         step.Name,
		ResourceType: res.Type,
		ResourceID:   res.ID,
		Compensation: step.compensation(res),
	}
	err := r.ledger.Append(ctx, entry)
	if err == nil {
		r.events.Info(audit.LedgerAppended, "Resource recorded", "step", step.Name, "resource", res.String())
		return nil
	}

	err = fmt.Errorf("record %s in ledger: %w", res, err)
	if entry.Compensation.Action == ledger.ActionNone {
		return err
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.engine.rollbackTimeout)
	defer cancel()
	if cerr := r.engine.compensator.Compensate(cctx, entry.Compensation); cerr != nil {
		r.result.ManualCleanup = append(r.result.ManualCleanup, entry.Compensation)
		r.events.Error(audit.CompensationFailed, cerr, "Untracked resource could not be removed", "resource", res.String())
		return errors.Join(err, fmt.Errorf("remove untracked %s: %w", res, cerr))
	}
	return err
}

func (r *run) commit(ctx context.Context) error {
	if err := r.ledger.Commit(ctx); err != nil {
		r.events.Error(audit.TransactionCommitted, err, "Commit failed")
		return err
	}
	r.events.Info(audit.TransactionCommitted, "Transaction committed", "transaction", r.ledger.ID())
	return nil
}

func (r *run) rollback(ctx context.Context, cause error) {
	e := r.engine
	r.events.Warn(audit.RollbackStarted, "Rolling back", "cause", cause)

	report := r.ledger.Rollback(ctx, auditingCompensator{
		inner:   e.compensator,
		events:  r.events,
		metrics: e.metrics,
	})
	r.result.Rollback = &report
	r.result.ManualCleanup = append(r.result.ManualCleanup, report.ManualCleanup...)
	e.finishRollback(r.events, report)
}

// finishRollback records the outcome of a rollback.
func (e *Engine) finishRollback(events audit.Emitter, report ledger.RollbackReport) {
	e.metrics.recordRollback(string(report.Status))

	kv := []any{"status", report.Status, "compensated", len(report.Compensated),
		"failed", len(report.Errors), "skipped", len(report.Skipped)}
	if report.PersistErr != nil {
		kv = append(kv, "persist_error", report.PersistErr)
	}
	if report.Status == ledger.StatusRolledBack {
		events.Info(audit.RollbackFinished, "Rollback finished", kv...)
	} else {
		events.Error(audit.RollbackFinished, report.Err(), "Rollback incomplete, manual cleanup required", kv...)
	}
}

// auditingCompensator records every compensation outcome.
type auditingCompensator struct {
	inner   ledger.Compensator
	events  audit.Emitter
	metrics *Metrics
}

func (a auditingCompensator) Compensate(ctx context.Context, c ledger.Compensation) error {
	err := a.inner.Compensate(ctx, c)
	if err != nil {
		a.metrics.recordCompensation(c.ResourceType, "failed")
		a.events.Error(audit.CompensationFailed, err, "Compensation failed", "compensation", c.String())
		return err
	}
	a.metrics.recordCompensation(c.ResourceType, "succeeded")
	a.events.Info(audit.CompensationSucceeded, "Compensation succeeded", "compensation", c.String())
	return nil
}
