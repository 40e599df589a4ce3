// Package orchestrator accepts prediction requests and drives their
// asynchronous execution through a bounded worker pool.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oraclade/predictmarket/pkg/admission"
	"github.com/oraclade/predictmarket/pkg/core"
	"github.com/oraclade/predictmarket/pkg/market"
	"github.com/oraclade/predictmarket/pkg/plugin"
	"github.com/oraclade/predictmarket/pkg/security"
)

// Request is an inbound prediction request. Input is stored opaquely on the
// job and decoded by the pipeline at execution time.
type Request struct {
	// Pipeline names the registered pipeline plugin that will do the work.
	Pipeline string

	// Input is the opaque request payload (symbol, horizon, parameters).
	Input []byte

	// Marketplace routes the job to the evaluator queue instead of the
	// orchestrator's own pool. The choice is fixed at creation.
	Marketplace bool

	// Priority and Payment are marketplace listing attributes.
	Priority int
	Payment  float64
}

// Orchestrator validates requests, applies admission control, persists jobs
// and schedules their execution. Submit never waits for pipeline execution:
// it returns as soon as the Pending record is durable.
type Orchestrator struct {
	store     core.Store
	registry  *plugin.Registry
	admission *admission.Controller
	lifecycle *core.Lifecycle
	queue     *market.Queue
	pool      *Pool
	bus       *core.Bus
	logger    *slog.Logger
	retry     RetryConfig
}

// New creates an orchestrator. The marketplace queue may be nil when the
// deployment runs no marketplace; the bus may be nil when no one listens.
func New(store core.Store, registry *plugin.Registry, ctrl *admission.Controller,
	lifecycle *core.Lifecycle, queue *market.Queue, bus *core.Bus, opts ...Option) *Orchestrator {

	cfg := defaultConfig()
	for _, opt := range opts {
		opt.Apply(&cfg)
	}

	o := &Orchestrator{
		store:     store,
		registry:  registry,
		admission: ctrl,
		lifecycle: lifecycle,
		queue:     queue,
		bus:       bus,
		logger:    cfg.Logger,
		retry:     cfg.Retry,
	}
	o.pool = NewPool(cfg.Concurrency, cfg.QueueDepth, o.execute, cfg.Logger)
	return o
}

// Pool returns the execution pool so the service root can Start it.
func (o *Orchestrator) Pool() *Pool {
	return o.pool
}

// Submit accepts a request on behalf of principal and returns the new job's
// ID. It fails fast with ErrUnknownPlugin before anything is persisted and
// with ErrCapacityExceeded when the principal is at the admission limit; in
// both cases no job record is created.
func (o *Orchestrator) Submit(ctx context.Context, req Request, principal string) (string, error) {
	if req.Pipeline == "" {
		return "", fmt.Errorf("%w: request names no pipeline", core.ErrInvalidPluginName)
	}
	if !security.ValidPluginName(req.Pipeline) {
		return "", fmt.Errorf("%w: %q", core.ErrInvalidPluginName, req.Pipeline)
	}
	if len(req.Input) > security.MaxInputSize {
		return "", core.ErrInputTooLarge
	}
	if !o.registry.Has(plugin.KindPipeline, req.Pipeline) {
		return "", fmt.Errorf("%w: %s/%s", core.ErrUnknownPlugin, plugin.KindPipeline, req.Pipeline)
	}

	if !o.admission.TryAdmit(principal) {
		return "", fmt.Errorf("%w: limit %d", core.ErrCapacityExceeded, o.admission.Limit())
	}

	mode := core.ModeOrchestrated
	if req.Marketplace {
		mode = core.ModeMarketplace
	}
	job := &core.Job{
		Owner:    principal,
		Mode:     mode,
		Pipeline: req.Pipeline,
		Input:    req.Input,
		Priority: req.Priority,
		Payment:  req.Payment,
	}
	if err := o.store.Create(ctx, job); err != nil {
		o.admission.Abort(principal)
		return "", fmt.Errorf("orchestrator: persist job: %w", err)
	}
	o.admission.Bind(job.ID, principal)
	o.emit(&core.JobSubmitted{Job: job, Timestamp: time.Now()})

	if job.Mode == core.ModeMarketplace {
		if o.queue != nil {
			o.queue.Enqueue(core.SummaryOf(job))
		}
		o.logger.Info("job listed on marketplace", "job_id", job.ID, "pipeline", job.Pipeline, "payment", job.Payment)
		return job.ID, nil
	}

	if err := o.pool.Submit(ctx, job.ID); err != nil {
		// The record exists but nothing will run it; cancel so it does
		// not sit Pending forever and the admission slot is returned.
		if cancelErr := o.lifecycle.Cancel(context.WithoutCancel(ctx), job.ID, principal); cancelErr != nil {
			o.logger.Error("failed to cancel unschedulable job", "job_id", job.ID, "error", cancelErr)
		}
		return "", fmt.Errorf("orchestrator: schedule execution: %w", err)
	}

	o.logger.Info("job scheduled", "job_id", job.ID, "pipeline", job.Pipeline, "owner", principal)
	return job.ID, nil
}

// Resume re-schedules Pending orchestrated jobs found in the store. A crash
// between persisting a job and executing it leaves the record Pending with
// its admission slot held; running Resume at startup gives every such job a
// path back to a terminal state.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	jobs, err := o.store.Query(ctx, core.Filter{
		State: core.StatePending,
		Mode:  core.ModeOrchestrated,
	})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: list pending jobs: %w", err)
	}

	resumed := 0
	for _, job := range jobs {
		if err := o.pool.Submit(ctx, job.ID); err != nil {
			return resumed, fmt.Errorf("orchestrator: resume job %s: %w", job.ID, err)
		}
		o.logger.Info("job resumed", "job_id", job.ID, "pipeline", job.Pipeline, "owner", job.Owner)
		resumed++
	}
	return resumed, nil
}

// execute is the background execution unit: it transitions the job to
// Processing, runs the pipeline, and records the terminal outcome. Every
// failure path, panics included, reaches a terminal transition so the
// admission slot is always returned.
func (o *Orchestrator) execute(ctx context.Context, jobID string) {
	job, started, err := o.lifecycle.Begin(ctx, jobID)
	if err != nil {
		o.logger.Error("failed to start job", "job_id", jobID, "error", err)
		return
	}
	if !started {
		// Another execution unit already owns this job.
		return
	}

	result, runErr := o.runPipeline(ctx, job)
	if runErr != nil {
		o.failJob(ctx, jobID, runErr)
		return
	}

	encoded, err := result.Encode()
	if err != nil {
		o.failJob(ctx, jobID, core.Execution("pipeline", err))
		return
	}

	err = retryWithBackoff(ctx, o.retry, func() error {
		_, completeErr := o.lifecycle.Complete(ctx, jobID, encoded)
		return completeErr
	})
	if err != nil {
		o.logger.Error("failed to record completion", "job_id", jobID, "error", err)
		o.failJob(context.WithoutCancel(ctx), jobID, core.Execution("storage", err))
		return
	}
	o.logger.Info("job completed", "job_id", jobID)
}

// runPipeline resolves and runs the job's pipeline, converting panics and
// plugin errors into ExecutionError.
func (o *Orchestrator) runPipeline(ctx context.Context, job *core.Job) (result *plugin.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = core.Execution("pipeline", fmt.Errorf("panic: %v", r))
		}
	}()

	pipe, err := o.registry.Pipeline(job.Pipeline)
	if err != nil {
		return nil, err
	}

	var req plugin.Request
	if len(job.Input) > 0 {
		if jsonErr := json.Unmarshal(job.Input, &req); jsonErr != nil {
			return nil, core.Execution("pipeline", fmt.Errorf("decode input: %w", jsonErr))
		}
	}

	result, runErr := pipe.Run(ctx, &req)
	if runErr != nil {
		var execErr *core.ExecutionError
		if errors.As(runErr, &execErr) {
			return nil, runErr
		}
		return nil, core.Execution("pipeline", runErr)
	}
	if result == nil {
		return nil, core.Execution("pipeline", fmt.Errorf("pipeline %q returned no result", job.Pipeline))
	}
	return result, nil
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, cause error) {
	err := retryWithBackoff(ctx, o.retry, func() error {
		_, failErr := o.lifecycle.Fail(ctx, jobID, cause)
		return failErr
	})
	if err != nil {
		o.logger.Error("failed to record failure", "job_id", jobID, "cause", cause, "error", err)
		return
	}
	o.logger.Warn("job failed", "job_id", jobID, "error", cause)
}

func (o *Orchestrator) emit(e core.Event) {
	if o.bus != nil {
		o.bus.Emit(e)
	}
}
