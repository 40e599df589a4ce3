package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oraclade/predictmarket/pkg/core"
)

// Manager implements the claim/submit/release lease protocol over the store
// and the marketplace index.
//
// Every mutation presents the concurrency token it last observed, so when a
// late submit races the expiry sweep (or two holders race to claim),
// whichever update commits first wins and the loser observes a stale token.
type Manager struct {
	store core.Store
	queue *Queue
	bus   *core.Bus
	cfg   Config

	// onTerminal is invoked once per job reaching Completed/Failed via
	// the marketplace path; the service root wires admission release here.
	onTerminal func(job *core.Job)

	// lapsed remembers holders whose lease on a job ended without a
	// submit, so their late submits are told the lease expired rather
	// than that they never held one. Entries are dropped when the job
	// reaches a terminal state.
	lapsedMu sync.Mutex
	lapsed   map[string]map[string]struct{}
}

// NewManager creates a lease manager. The bus may be nil.
func NewManager(store core.Store, queue *Queue, bus *core.Bus, opts ...Option) *Manager {
	cfg := Config{
		LeaseDuration: core.DefaultLeaseDuration,
		Pricer:        DefaultPricer,
		Logger:        slog.Default(),
		Clock:         time.Now,
	}
	for _, opt := range opts {
		opt.Apply(&cfg)
	}

	return &Manager{
		store:  store,
		queue:  queue,
		bus:    bus,
		cfg:    cfg,
		lapsed: make(map[string]map[string]struct{}),
	}
}

// OnTerminal registers the callback run after marketplace jobs reach a
// terminal state.
func (m *Manager) OnTerminal(fn func(job *core.Job)) {
	m.onTerminal = fn
}

// Queue returns the marketplace index the manager maintains.
func (m *Manager) Queue() *Queue {
	return m.queue
}

// ListPending returns the claimable listing after lazily reclaiming any
// expired leases, so a stale Processing job reappears for new claimers.
func (m *Manager) ListPending(ctx context.Context, f ListFilters) ([]core.Summary, error) {
	if _, err := m.ExpireLeases(ctx); err != nil {
		return nil, err
	}
	return m.queue.ListPending(f), nil
}

// Claim grants holder an exclusive lease on a Pending marketplace job and
// atomically moves it to Processing. When two holders race, exactly one
// commits the token bump; the other receives ErrAlreadyClaimed.
func (m *Manager) Claim(ctx context.Context, jobID, holder string) (core.Lease, error) {
	if holder == "" {
		return core.Lease{}, fmt.Errorf("%w: empty holder", core.ErrNotLeaseHolder)
	}

	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return core.Lease{}, err
	}
	if job.Mode != core.ModeMarketplace {
		return core.Lease{}, fmt.Errorf("%w: job is not marketplace-driven", core.ErrInvalidState)
	}

	now := m.cfg.Clock()
	if job.State == core.StateProcessing && job.LeaseExpired(now) {
		// Reclaim in passing so the claim below sees a Pending job.
		m.expireOne(ctx, job)
		job, err = m.store.Get(ctx, jobID)
		if err != nil {
			return core.Lease{}, err
		}
	}

	switch {
	case job.State == core.StateProcessing && job.Leased(now):
		return core.Lease{}, core.ErrAlreadyClaimed
	case job.State != core.StatePending:
		return core.Lease{}, fmt.Errorf("%w: job is %s", core.ErrInvalidState, job.State)
	}

	claimedAt := now
	expiresAt := now.Add(m.cfg.LeaseDuration)
	updated, err := m.store.UpdateIfTokenMatches(ctx, jobID, job.Token, func(j *core.Job) error {
		if j.State != core.StatePending || j.Leased(now) {
			return core.ErrAlreadyClaimed
		}
		j.State = core.StateProcessing
		j.HolderID = holder
		j.ClaimedAt = &claimedAt
		j.ExpiresAt = &expiresAt
		j.ClaimCount++
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrTokenConflict) {
			return core.Lease{}, core.ErrAlreadyClaimed
		}
		return core.Lease{}, err
	}

	m.queue.Remove(jobID)
	lease := core.LeaseOf(updated)
	m.emit(&core.LeaseClaimed{Lease: lease, Timestamp: now})
	m.cfg.Logger.Debug("lease claimed", "job_id", jobID, "holder", holder, "expires_at", expiresAt)
	return lease, nil
}

// Submit completes a leased job with the evaluator's result, recording the
// quality score and payout computed from info. It succeeds only while
// holder's lease is live: after expiry the job has been (or is concurrently
// being) reclaimed, and the submit is rejected rather than silently
// honored.
func (m *Manager) Submit(ctx context.Context, jobID, holder string, result []byte, info PaymentInfo) error {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := m.cfg.Clock()
	if job.HolderID != holder || job.State != core.StateProcessing {
		if m.hasLapsed(jobID, holder) {
			return core.ErrLeaseExpired
		}
		return core.ErrNotLeaseHolder
	}
	if job.LeaseExpired(now) {
		// The sweep owns this job now; make sure it actually runs.
		m.expireOne(ctx, job)
		return core.ErrLeaseExpired
	}
	if len(result) == 0 {
		return fmt.Errorf("%w: empty result", core.ErrInvalidState)
	}

	var completed *core.Job
	completed, err = m.store.UpdateIfTokenMatches(ctx, jobID, job.Token, func(j *core.Job) error {
		if j.State != core.StateProcessing || j.HolderID != holder {
			return core.ErrNotLeaseHolder
		}
		if j.LeaseExpired(now) {
			return core.ErrLeaseExpired
		}
		score, payout := m.cfg.Pricer(j, info)
		j.State = core.StateCompleted
		j.Result = result
		j.Error = ""
		j.Score = score
		j.Payout = payout
		j.ClearLease()
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrTokenConflict) {
			return m.submitConflict(ctx, jobID, holder)
		}
		return err
	}

	m.clearLapsed(jobID)
	m.emit(&core.JobCompleted{Job: completed, Duration: now.Sub(completed.CreatedAt), Timestamp: now})
	m.terminal(completed)
	m.cfg.Logger.Info("job completed by evaluator", "job_id", jobID, "holder", holder, "payout", completed.Payout)
	return nil
}

// submitConflict decides what a losing Submit gets told after its token
// bump was beaten by another write. Not every conflict means the sweep
// reclaimed the job: a concurrent Release or another writer can bump the
// token too, so the job is re-read and classified by what actually ended
// the holder's lease.
func (m *Manager) submitConflict(ctx context.Context, jobID, holder string) error {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	now := m.cfg.Clock()
	if job.State == core.StateProcessing && job.HolderID == holder && !job.LeaseExpired(now) {
		// The lease still stands; an unrelated write bumped the token.
		return core.ErrTokenConflict
	}
	if m.hasLapsed(jobID, holder) {
		return core.ErrLeaseExpired
	}
	return core.ErrNotLeaseHolder
}

// Release is a voluntary early release: the job returns to Pending and is
// listed again, and the token bump invalidates any in-flight submit from
// the releasing holder.
func (m *Manager) Release(ctx context.Context, jobID, holder, reason string) error {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.HolderID != holder || job.State != core.StateProcessing {
		if m.hasLapsed(jobID, holder) {
			return core.ErrLeaseExpired
		}
		return core.ErrNotLeaseHolder
	}

	updated, err := m.store.UpdateIfTokenMatches(ctx, jobID, job.Token, func(j *core.Job) error {
		if j.State != core.StateProcessing || j.HolderID != holder {
			return core.ErrNotLeaseHolder
		}
		j.State = core.StatePending
		j.ClearLease()
		return nil
	})
	if err != nil {
		return err
	}

	m.markLapsed(jobID, holder)
	m.queue.Enqueue(core.SummaryOf(updated))
	m.emit(&core.LeaseReleased{JobID: jobID, Holder: holder, Reason: reason, Timestamp: m.cfg.Clock()})
	m.cfg.Logger.Info("lease released", "job_id", jobID, "holder", holder, "reason", reason)
	return nil
}

// ExpireLeases reclaims every lease whose window has passed: the job is
// requeued, or failed once it has exhausted the configured claim budget.
// Returns the number of leases reclaimed.
func (m *Manager) ExpireLeases(ctx context.Context) (int, error) {
	expired, err := m.store.ListExpiredLeases(ctx, m.cfg.Clock())
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, job := range expired {
		if m.expireOne(ctx, job) {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// expireOne reclaims a single expired lease. The expiry conditions are
// re-checked inside the atomic update, so a submit that committed between
// the stale read and this call wins and the reclaim backs off.
func (m *Manager) expireOne(ctx context.Context, job *core.Job) bool {
	now := m.cfg.Clock()
	holder := job.HolderID
	fail := m.cfg.MaxClaims > 0 && job.ClaimCount >= m.cfg.MaxClaims

	updated, err := m.store.UpdateIfTokenMatches(ctx, job.ID, job.Token, func(j *core.Job) error {
		if j.State != core.StateProcessing || !j.LeaseExpired(now) {
			return core.ErrTokenConflict
		}
		if fail {
			j.State = core.StateFailed
			j.Error = fmt.Sprintf("lease expired after %d claim attempts", j.ClaimCount)
			j.Result = nil
		} else {
			j.State = core.StatePending
		}
		j.ClearLease()
		return nil
	})
	if err != nil {
		if !errors.Is(err, core.ErrTokenConflict) && !errors.Is(err, core.ErrNotFound) {
			m.cfg.Logger.Error("failed to reclaim expired lease", "job_id", job.ID, "error", err)
		}
		return false
	}

	m.markLapsed(job.ID, holder)
	if updated.State == core.StateFailed {
		m.clearLapsed(job.ID)
		m.emit(&core.JobFailed{Job: updated, Error: errors.New(updated.Error), Timestamp: now})
		m.terminal(updated)
	} else {
		m.queue.Enqueue(core.SummaryOf(updated))
	}
	m.emit(&core.LeaseExpired{JobID: job.ID, Holder: holder, Requeued: updated.State == core.StatePending, Timestamp: now})
	m.cfg.Logger.Info("lease expired", "job_id", job.ID, "holder", holder, "requeued", updated.State == core.StatePending)
	return true
}

func (m *Manager) markLapsed(jobID, holder string) {
	if holder == "" {
		return
	}
	m.lapsedMu.Lock()
	if m.lapsed[jobID] == nil {
		m.lapsed[jobID] = make(map[string]struct{})
	}
	m.lapsed[jobID][holder] = struct{}{}
	m.lapsedMu.Unlock()
}

func (m *Manager) hasLapsed(jobID, holder string) bool {
	m.lapsedMu.Lock()
	defer m.lapsedMu.Unlock()
	_, ok := m.lapsed[jobID][holder]
	return ok
}

func (m *Manager) clearLapsed(jobID string) {
	m.lapsedMu.Lock()
	delete(m.lapsed, jobID)
	m.lapsedMu.Unlock()
}

func (m *Manager) emit(e core.Event) {
	if m.bus != nil {
		m.bus.Emit(e)
	}
}

func (m *Manager) terminal(job *core.Job) {
	if m.onTerminal != nil {
		m.onTerminal(job)
	}
}
