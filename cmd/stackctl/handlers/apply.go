package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/imamik/stackctl/internal/breaker"
	"github.com/imamik/stackctl/internal/config"
	"github.com/imamik/stackctl/internal/orchestration"
	"github.com/imamik/stackctl/internal/util/async"
	"github.com/imamik/stackctl/pkg/remote"
)

// ApplyOptions are the flags of the apply command.
type ApplyOptions struct {
	Files       []string
	Parallel    int
	MetricsFile string
	JSON        bool
	Out         io.Writer
}

// appliedWorkflow pairs a definition with the result of its run.
type appliedWorkflow struct {
	Name   string                         `json:"workflow"`
	File   string                         `json:"file"`
	Result *orchestration.WorkflowResult `json:"result,omitempty"`
	Error  string                         `json:"error,omitempty"`
}

// Apply handles the apply command.
//
// Every workflow file is loaded and validated before anything runs. The runs
// share one ledger store, audit log and breaker registry, so a service that
// fails in one run is seen as failing by the others.
func Apply(ctx context.Context, g *Globals, opts ApplyOptions) (err error) {
	log := logr.FromContextOrDiscard(ctx)
	if len(opts.Files) == 0 {
		return errors.New("at least one workflow file is required")
	}

	workflows := make([]*config.Workflow, 0, len(opts.Files))
	for _, f := range opts.Files {
		wf, err := config.LoadWorkflow(f)
		if err != nil {
			return err
		}
		workflows = append(workflows, wf)
	}

	res := config.LoadResilience()
	rt, err := openRuntime(ctx, g, res)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.close(context.WithoutCancel(ctx)))
	}()

	reg := prometheus.NewRegistry()
	metrics, err := orchestration.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := metrics.WatchAuditLogger(rt.audit); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	breakers := breaker.NewRegistry(res.Breaker,
		breaker.WithTransitionHook(metrics.BreakerTransition),
		breaker.WithTransitionHook(orchestration.AuditBreakerTransitions(rt.audit)),
	)
	configureBreakers(breakers, workflows)

	applied := make([]appliedWorkflow, len(workflows))
	tasks := make([]async.Task, len(workflows))
	for i, wf := range workflows {
		applied[i] = appliedWorkflow{Name: wf.Name, File: opts.Files[i]}
		tasks[i] = async.Task{
			Name: wf.Name,
			Func: func(ctx context.Context) error {
				result, err := runWorkflow(ctx, wf, rt, res, breakers, metrics)
				applied[i].Result = result
				if err != nil {
					applied[i].Error = err.Error()
				}
				return err
			},
		}
	}

	log.Info("Applying workflows", "count", len(workflows), "parallel", opts.Parallel)
	runErr := async.RunParallel(ctx, tasks, opts.Parallel)

	if opts.JSON {
		if err := writeJSON(opts.Out, applied); err != nil {
			return err
		}
	} else {
		p := newPrinter(opts.Out)
		for _, a := range applied {
			if a.Result != nil {
				p.renderWorkflowResult(a.Name, a.Result)
			}
		}
		snaps := make([]breaker.Snapshot, 0)
		for _, key := range breakers.Keys() {
			snaps = append(snaps, breakers.Status(key))
		}
		p.renderBreakers(snaps)
	}

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			log.Error(err, "Failed to write metrics file", "path", opts.MetricsFile)
		}
	}

	return runErr
}

// runWorkflow executes one workflow. A run that rolled back is reported as an
// error alongside its result.
func runWorkflow(
	ctx context.Context,
	wf *config.Workflow,
	rt *runtime,
	res *config.Resilience,
	breakers *breaker.Registry,
	metrics *orchestration.Metrics,
) (*orchestration.WorkflowResult, error) {
	client, err := newRemoteClient(wf.Location)
	if err != nil {
		return nil, err
	}

	engine, err := orchestration.New(orchestration.Config{
		Store:           rt.store,
		Compensator:     remote.DeleteCompensator{Client: client},
		Policy:          res.Policy(),
		Breakers:        breakers,
		Audit:           rt.audit,
		Metrics:         metrics,
		StepTimeout:     res.StepTimeout,
		RollbackTimeout: res.RollbackTimeout,
	})
	if err != nil {
		return nil, err
	}

	ctx = logr.NewContext(ctx, logr.FromContextOrDiscard(ctx).WithValues("workflow", wf.Name))
	result, err := engine.ExecuteWorkflow(ctx, wf.CorrelationID, workflowSteps(wf, client))
	if err != nil {
		return nil, err
	}
	if !result.Succeeded() {
		if result.FailedStep == "" {
			return result, result.Err
		}
		return result, fmt.Errorf("failed at step %s: %w", result.FailedStep, result.Err)
	}
	return result, nil
}
