package core

import (
	"context"
	"fmt"
	"time"
)

// Lifecycle exposes the job state machine over a Store. All state changes in
// the module funnel through its transition helpers so the legality rules and
// the result/error invariants hold everywhere.
type Lifecycle struct {
	store Store
	bus   *Bus

	// onTerminal is invoked exactly once per job when it reaches a
	// terminal state. The service root wires admission release here.
	onTerminal func(job *Job)

	now func() time.Time
}

// NewLifecycle creates a lifecycle service over the store. The bus may be
// nil when no one listens for events.
func NewLifecycle(store Store, bus *Bus) *Lifecycle {
	return &Lifecycle{store: store, bus: bus, now: time.Now}
}

// OnTerminal registers the callback run after every terminal transition.
func (l *Lifecycle) OnTerminal(fn func(job *Job)) {
	l.onTerminal = fn
}

// SetClock overrides the time source. Tests use this to simulate expiry.
func (l *Lifecycle) SetClock(now func() time.Time) {
	l.now = now
}

// Get returns the latest committed view of a job.
func (l *Lifecycle) Get(ctx context.Context, jobID string) (*Job, error) {
	return l.store.Get(ctx, jobID)
}

// Cancel moves a Pending job to Cancelled. It is only permitted while the
// job is still Pending; a Processing or terminal job returns
// ErrInvalidState. A non-empty principal must match the job's owner.
func (l *Lifecycle) Cancel(ctx context.Context, jobID, principal string) error {
	job, err := l.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Owner != "" && job.Owner != principal {
		return ErrNotFound
	}
	if job.State != StatePending {
		return fmt.Errorf("%w: cannot cancel job in state %q", ErrInvalidState, job.State)
	}

	updated, err := l.store.UpdateIfTokenMatches(ctx, jobID, job.Token, func(j *Job) error {
		if j.State != StatePending {
			return fmt.Errorf("%w: cannot cancel job in state %q", ErrInvalidState, j.State)
		}
		j.State = StateCancelled
		return nil
	})
	if err != nil {
		return err
	}

	l.emit(&JobCancelled{Job: updated, Timestamp: l.now()})
	l.terminal(updated)
	return nil
}

// Begin moves a Pending job to Processing. Repeat triggers are ignored: a
// job already Processing returns the current record with ok=false rather
// than an error, so the background execution start is idempotent.
func (l *Lifecycle) Begin(ctx context.Context, jobID string) (*Job, bool, error) {
	job, err := l.store.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.State == StateProcessing {
		return job, false, nil
	}

	updated, err := l.transition(ctx, job, StateProcessing, nil)
	if err != nil {
		return nil, false, err
	}
	l.emit(&JobStarted{Job: updated, Timestamp: l.now()})
	return updated, true, nil
}

// Complete moves a Processing job to Completed, recording the result.
func (l *Lifecycle) Complete(ctx context.Context, jobID string, result []byte) (*Job, error) {
	job, err := l.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	updated, err := l.transition(ctx, job, StateCompleted, func(j *Job) {
		j.Result = result
		j.Error = ""
		j.ClearLease()
	})
	if err != nil {
		return nil, err
	}

	l.emit(&JobCompleted{Job: updated, Duration: l.now().Sub(updated.CreatedAt), Timestamp: l.now()})
	l.terminal(updated)
	return updated, nil
}

// Fail moves a Processing job to Failed, recording the failure reason.
func (l *Lifecycle) Fail(ctx context.Context, jobID string, cause error) (*Job, error) {
	job, err := l.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	updated, err := l.transition(ctx, job, StateFailed, func(j *Job) {
		j.Error = cause.Error()
		j.Result = nil
		j.ClearLease()
	})
	if err != nil {
		return nil, err
	}

	l.emit(&JobFailed{Job: updated, Error: cause, Timestamp: l.now()})
	l.terminal(updated)
	return updated, nil
}

// transition applies a guarded state change through the token discipline.
// The legality check runs again inside the mutator against the freshly
// loaded record, so a stale caller cannot sneak past a racing writer.
func (l *Lifecycle) transition(ctx context.Context, job *Job, next JobState, apply func(*Job)) (*Job, error) {
	if !job.State.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, next)
	}
	return l.store.UpdateIfTokenMatches(ctx, job.ID, job.Token, func(j *Job) error {
		if !j.State.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, next)
		}
		j.State = next
		if apply != nil {
			apply(j)
		}
		return nil
	})
}

func (l *Lifecycle) emit(e Event) {
	if l.bus != nil {
		l.bus.Emit(e)
	}
}

func (l *Lifecycle) terminal(job *Job) {
	if l.onTerminal != nil {
		l.onTerminal(job)
	}
}
