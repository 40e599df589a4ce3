// Package predictmarket provides a prediction-serving marketplace core: a
// job lifecycle engine with admission control, background orchestration,
// and a lease-based claim/submit/release protocol for evaluator workers.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages and wires them into a Service root.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("market.db"), &gorm.Config{})
//	store := predictmarket.NewGormStore(db)
//	store.Migrate(context.Background())
//
//	registry := predictmarket.NewRegistry()
//	registry.Register(predictmarket.KindPipeline, "default", func() any {
//	    return predictmarket.NewComposedPipeline(registry, "history", "naive")
//	})
//
//	svc, _ := predictmarket.NewService(context.Background(), store, registry)
//	go svc.Start(ctx)
//
//	jobID, _ := svc.Orchestrator.Submit(ctx, predictmarket.Request{
//	    Pipeline: "default",
//	    Input:    []byte(`{"symbol":"ACME","horizon":5}`),
//	}, "user-1")
package predictmarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/oraclade/predictmarket/pkg/admission"
	"github.com/oraclade/predictmarket/pkg/core"
	"github.com/oraclade/predictmarket/pkg/market"
	"github.com/oraclade/predictmarket/pkg/orchestrator"
	"github.com/oraclade/predictmarket/pkg/plugin"
	"github.com/oraclade/predictmarket/pkg/schedule"
	"github.com/oraclade/predictmarket/pkg/storage"
)

// Type aliases for the public API surface.
type (
	// Job is a unit of requested prediction work tracked through its
	// lifecycle.
	Job = core.Job

	// JobState represents the current lifecycle state of a job.
	JobState = core.JobState

	// JobMode decides which path drives a job to completion.
	JobMode = core.JobMode

	// Lease is a time-bound exclusive claim on a marketplace job.
	Lease = core.Lease

	// Summary is the marketplace listing view of a pending job.
	Summary = core.Summary

	// Store defines the persistence layer for jobs.
	Store = core.Store

	// Filter narrows a Store query.
	Filter = core.Filter

	// Event is the interface for all lifecycle and marketplace events.
	Event = core.Event

	// Bus fans events out to subscribers.
	Bus = core.Bus

	// Lifecycle and marketplace event payloads.
	JobSubmitted  = core.JobSubmitted
	JobStarted    = core.JobStarted
	JobCompleted  = core.JobCompleted
	JobFailed     = core.JobFailed
	JobCancelled  = core.JobCancelled
	LeaseClaimed  = core.LeaseClaimed
	LeaseReleased = core.LeaseReleased
	LeaseExpired  = core.LeaseExpired

	// Lifecycle exposes the job state machine over a Store.
	Lifecycle = core.Lifecycle

	// ExecutionError wraps a plugin failure recorded on a Failed job.
	ExecutionError = core.ExecutionError

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore

	// Registry resolves named capability providers.
	Registry = plugin.Registry

	// Kind identifies a capability set in the registry.
	Kind = plugin.Kind

	// Feeder fetches a dataset for a request.
	Feeder = plugin.Feeder

	// Predictor runs inference over a dataset.
	Predictor = plugin.Predictor

	// Pipeline produces a result for a request.
	Pipeline = plugin.Pipeline

	// Request is an inbound prediction request.
	Request = orchestrator.Request

	// Orchestrator accepts requests and drives asynchronous execution.
	Orchestrator = orchestrator.Orchestrator

	// AdmissionController enforces the per-principal in-flight cap.
	AdmissionController = admission.Controller

	// MarketQueue is the index of claimable marketplace jobs.
	MarketQueue = market.Queue

	// LeaseManager implements the claim/submit/release protocol.
	LeaseManager = market.Manager

	// ListFilters narrows and orders a marketplace listing.
	ListFilters = market.ListFilters

	// PaymentInfo is the opaque settlement payload attached at submit.
	PaymentInfo = market.PaymentInfo

	// Schedule defines when a recurring maintenance task runs next.
	Schedule = schedule.Schedule
)

// State constants.
const (
	StatePending    = core.StatePending
	StateProcessing = core.StateProcessing
	StateCompleted  = core.StateCompleted
	StateFailed     = core.StateFailed
	StateCancelled  = core.StateCancelled

	ModeOrchestrated = core.ModeOrchestrated
	ModeMarketplace  = core.ModeMarketplace

	KindFeeder    = plugin.KindFeeder
	KindPredictor = plugin.KindPredictor
	KindPipeline  = plugin.KindPipeline
)

// Error variables.
var (
	ErrCapacityExceeded  = core.ErrCapacityExceeded
	ErrUnknownPlugin     = core.ErrUnknownPlugin
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrInvalidState      = core.ErrInvalidState
	ErrNotFound          = core.ErrNotFound
	ErrAlreadyClaimed    = core.ErrAlreadyClaimed
	ErrLeaseExpired      = core.ErrLeaseExpired
	ErrNotLeaseHolder    = core.ErrNotLeaseHolder
	ErrTokenConflict     = core.ErrTokenConflict
)

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return plugin.NewRegistry()
}

// NewComposedPipeline creates a pipeline composing feeder and predictor
// lookups against the registry.
func NewComposedPipeline(r *Registry, defaultFeeder, defaultPredictor string) *plugin.ComposedPipeline {
	return plugin.NewComposedPipeline(r, defaultFeeder, defaultPredictor)
}

// ServiceConfig tunes NewService.
type ServiceConfig struct {
	AdmissionLimit  int
	SweepSchedule   Schedule
	MarketOptions   []market.Option
	OrchestratorOpt []orchestrator.Option
}

// Service is the explicitly constructed root owning every component. No
// component reaches global state; everything is threaded through here.
type Service struct {
	Store        Store
	Registry     *Registry
	Bus          *Bus
	Admission    *AdmissionController
	Lifecycle    *Lifecycle
	Queue        *MarketQueue
	Leases       *LeaseManager
	Orchestrator *Orchestrator

	sweeper *market.Sweeper
}

// NewService wires the full marketplace core: admission counters are
// recovered from the store, the marketplace index is reloaded, and every
// terminal transition releases its admission slot exactly once.
func NewService(ctx context.Context, store Store, registry *Registry, cfg ...ServiceConfig) (*Service, error) {
	var c ServiceConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.SweepSchedule == nil {
		c.SweepSchedule = schedule.Every(time.Minute)
	}

	bus := core.NewBus()
	ctrl := admission.NewController(c.AdmissionLimit)
	lifecycle := core.NewLifecycle(store, bus)
	queue := market.NewQueue()
	leases := market.NewManager(store, queue, bus, c.MarketOptions...)
	orch := orchestrator.New(store, registry, ctrl, lifecycle, queue, bus, c.OrchestratorOpt...)

	lifecycle.OnTerminal(func(job *Job) {
		ctrl.Release(job.ID)
		queue.Remove(job.ID)
	})
	leases.OnTerminal(func(job *Job) { ctrl.Release(job.ID) })

	if err := ctrl.Recover(ctx, store); err != nil {
		return nil, err
	}
	if err := queue.Reload(ctx, store); err != nil {
		return nil, err
	}

	return &Service{
		Store:        store,
		Registry:     registry,
		Bus:          bus,
		Admission:    ctrl,
		Lifecycle:    lifecycle,
		Queue:        queue,
		Leases:       leases,
		Orchestrator: orch,
		sweeper:      market.NewSweeper(leases, c.SweepSchedule),
	}, nil
}

// Predict submits a request and blocks until the job reaches a terminal
// state, returning the stored result. It is a convenience for callers who
// want synchronous semantics over the asynchronous core; long-running
// pipelines should use Orchestrator.Submit and watch the Bus instead.
func (s *Service) Predict(ctx context.Context, req Request, principal string) ([]byte, error) {
	events := s.Bus.Subscribe()
	defer s.Bus.Unsubscribe(events)

	jobID, err := s.Orchestrator.Submit(ctx, req, principal)
	if err != nil {
		return nil, err
	}

	// The bus drops under pressure, so poll the store as a fallback.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := s.Store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			if job.State == StateCompleted {
				return job.Result, nil
			}
			return nil, fmt.Errorf("job %s %s: %s", jobID, job.State, job.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-events:
		case <-ticker.C:
		}
	}
}

// Start runs the execution pool and the lease expiry sweeper, re-scheduling
// any orchestrated jobs a previous process left Pending. It blocks until ctx
// is cancelled and the pool has drained.
func (s *Service) Start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.sweeper.Start(ctx) }()

	// Resume runs concurrently with the pool: its submissions block on the
	// pool's queue, which the workers are already consuming.
	go func() {
		if _, err := s.Orchestrator.Resume(ctx); err != nil && ctx.Err() == nil {
			slog.Error("failed to resume pending jobs", "error", err)
		}
	}()

	err := s.Orchestrator.Pool().Start(ctx)
	<-done
	return err
}
