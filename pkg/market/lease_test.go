package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraclade/predictmarket/pkg/core"
)

// fakeClock lets tests move time past lease expiry without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setupManager(t *testing.T, opts ...Option) (*Manager, core.Store, *fakeClock) {
	t.Helper()
	store := newTestStore(t)
	clk := newFakeClock()
	all := append([]Option{WithClock(clk.Now)}, opts...)
	m := NewManager(store, NewQueue(), core.NewBus(), all...)
	return m, store, clk
}

func listJob(t *testing.T, m *Manager, store core.Store, payment float64) *core.Job {
	t.Helper()
	job := &core.Job{Mode: core.ModeMarketplace, Pipeline: "default", Payment: payment}
	require.NoError(t, store.Create(context.Background(), job))
	m.Queue().Enqueue(core.SummaryOf(job))
	return job
}

func TestClaim_GrantsLease(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t)
	job := listJob(t, m, store, 5)

	lease, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)
	assert.Equal(t, job.ID, lease.JobID)
	assert.Equal(t, "eval-a", lease.Holder)
	assert.Equal(t, clk.Now().Add(core.DefaultLeaseDuration), lease.ExpiresAt)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateProcessing, got.State)
	assert.Equal(t, "eval-a", got.HolderID)
	assert.Equal(t, 1, got.ClaimCount)

	assert.Equal(t, 0, m.Queue().Len(), "claimed job leaves the listing")
}

func TestClaim_SecondHolderRejected(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	_, err = m.Claim(ctx, job.ID, "eval-b")
	assert.ErrorIs(t, err, core.ErrAlreadyClaimed)
}

func TestClaim_ConcurrentExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	const holders = 6
	var wg sync.WaitGroup
	errs := make([]error, holders)
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Claim(ctx, job.ID, string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, core.ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestClaim_NotFound(t *testing.T) {
	m, _, _ := setupManager(t)
	_, err := m.Claim(context.Background(), "missing", "eval-a")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClaim_OrchestratedJobRejected(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)

	job := &core.Job{Mode: core.ModeOrchestrated, Pipeline: "default"}
	require.NoError(t, store.Create(ctx, job))

	_, err := m.Claim(ctx, job.ID, "eval-a")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestClaim_ReclaimsExpiredLeaseInPassing(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	clk.Advance(core.DefaultLeaseDuration + time.Minute)

	lease, err := m.Claim(ctx, job.ID, "eval-b")
	require.NoError(t, err, "expired lease must not block a new claim")
	assert.Equal(t, "eval-b", lease.Holder)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ClaimCount)
}

func TestSubmit_CompletesJob(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 8)

	var released []string
	m.OnTerminal(func(j *core.Job) { released = append(released, j.ID) })

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	err = m.Submit(ctx, job.ID, "eval-a", []byte(`{"values":[1.5]}`), PaymentInfo{"account": "acct-1"})
	require.NoError(t, err)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, got.State)
	assert.NotEmpty(t, got.Result)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.HolderID, "lease destroyed on submit")
	assert.Equal(t, 1.0, got.Score)
	assert.Equal(t, 8.0, got.Payout, "default pricer pays the offered payment")
	assert.Equal(t, []string{job.ID}, released)
}

func TestSubmit_CustomPricer(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t, WithPricer(func(j *core.Job, info PaymentInfo) (float64, float64) {
		return 0.5, j.Payment / 2
	}))
	job := listJob(t, m, store, 10)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)
	require.NoError(t, m.Submit(ctx, job.ID, "eval-a", []byte(`{}`), nil))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Score)
	assert.Equal(t, 5.0, got.Payout)
}

func TestSubmit_WrongHolder(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	err = m.Submit(ctx, job.ID, "eval-b", []byte(`{}`), nil)
	assert.ErrorIs(t, err, core.ErrNotLeaseHolder)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateProcessing, got.State, "failed submit leaves the job untouched")
	assert.Equal(t, "eval-a", got.HolderID)
}

func TestSubmit_AfterExpiryRejectedAndRequeued(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	clk.Advance(core.DefaultLeaseDuration + time.Second)

	err = m.Submit(ctx, job.ID, "eval-a", []byte(`{}`), nil)
	assert.ErrorIs(t, err, core.ErrLeaseExpired)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatePending, got.State, "expiry requeues rather than honoring the late submit")
	assert.Equal(t, 1, m.Queue().Len())
}

func TestSubmit_AfterReclaimByNewHolder(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	clk.Advance(core.DefaultLeaseDuration + time.Minute)

	_, err = m.Claim(ctx, job.ID, "eval-b")
	require.NoError(t, err)

	err = m.Submit(ctx, job.ID, "eval-a", []byte(`{}`), nil)
	assert.ErrorIs(t, err, core.ErrLeaseExpired, "lapsed holder is told the lease expired")

	require.NoError(t, m.Submit(ctx, job.ID, "eval-b", []byte(`{"v":1}`), nil))
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, got.State)
}

func TestSubmit_EmptyResultRejected(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	err = m.Submit(ctx, job.ID, "eval-a", nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestRelease_RequeuesAndInvalidatesStaleSubmit(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, job.ID, "eval-a", "insufficient_resources"))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatePending, got.State)
	assert.Empty(t, got.HolderID)

	listed := m.Queue().ListPending(ListFilters{})
	require.Len(t, listed, 1)
	assert.Equal(t, job.ID, listed[0].ID)

	err = m.Submit(ctx, job.ID, "eval-a", []byte(`{}`), nil)
	assert.ErrorIs(t, err, core.ErrLeaseExpired, "stale submit after release fails")
}

func TestRelease_WrongHolder(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	err = m.Release(ctx, job.ID, "eval-b", "nope")
	assert.ErrorIs(t, err, core.ErrNotLeaseHolder)
}

func TestExpireLeases_RequeuesExpired(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	clk.Advance(core.DefaultLeaseDuration + time.Second)

	n, err := m.ExpireLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatePending, got.State)
	assert.Empty(t, got.HolderID)
	assert.Equal(t, 1, m.Queue().Len())
}

func TestExpireLeases_FailsAfterMaxClaims(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t, WithMaxClaims(2))
	job := listJob(t, m, store, 5)

	var terminal []*core.Job
	m.OnTerminal(func(j *core.Job) { terminal = append(terminal, j) })

	for i := 0; i < 2; i++ {
		_, err := m.Claim(ctx, job.ID, "eval-a")
		require.NoError(t, err)
		clk.Advance(core.DefaultLeaseDuration + time.Second)
		_, err = m.ExpireLeases(ctx)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State, "claim budget exhausted")
	assert.Contains(t, got.Error, "lease expired")
	assert.Equal(t, 0, m.Queue().Len())
	require.Len(t, terminal, 1)
	assert.Equal(t, job.ID, terminal[0].ID)
}

func TestExpireLeases_LiveLeaseUntouched(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	n, err := m.ExpireLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateProcessing, got.State)
	assert.Equal(t, "eval-a", got.HolderID)
}

func TestListPending_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)

	listed, err := m.ListPending(ctx, ListFilters{})
	require.NoError(t, err)
	assert.Empty(t, listed, "claimed job is hidden")

	clk.Advance(core.DefaultLeaseDuration + time.Second)

	listed, err = m.ListPending(ctx, ListFilters{})
	require.NoError(t, err)
	require.Len(t, listed, 1, "expired lease reappears on access")
	assert.Equal(t, job.ID, listed[0].ID)
}

func TestClaim_EmptyHolderRejected(t *testing.T) {
	m, store, _ := setupManager(t)
	job := listJob(t, m, store, 5)

	_, err := m.Claim(context.Background(), job.ID, "")
	assert.ErrorIs(t, err, core.ErrNotLeaseHolder)
}

func TestSubmitConflict_Classification(t *testing.T) {
	ctx := context.Background()
	m, store, clk := setupManager(t)

	// Live lease, token bumped by an unrelated write: the holder can retry.
	job := listJob(t, m, store, 5)
	_, err := m.Claim(ctx, job.ID, "eval-a")
	require.NoError(t, err)
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	_, err = store.UpdateIfTokenMatches(ctx, job.ID, got.Token, func(j *core.Job) error { return nil })
	require.NoError(t, err)
	assert.ErrorIs(t, m.submitConflict(ctx, job.ID, "eval-a"), core.ErrTokenConflict)

	// The holder released: its lease ended without a submit.
	require.NoError(t, m.Release(ctx, job.ID, "eval-a", "giving up"))
	assert.ErrorIs(t, m.submitConflict(ctx, job.ID, "eval-a"), core.ErrLeaseExpired)

	// A writer that never held the lease.
	assert.ErrorIs(t, m.submitConflict(ctx, job.ID, "eval-z"), core.ErrNotLeaseHolder)

	// Reclaimed by the sweep after expiry.
	_, err = m.Claim(ctx, job.ID, "eval-b")
	require.NoError(t, err)
	clk.Advance(core.DefaultLeaseDuration + time.Minute)
	reclaimed, err := m.ExpireLeases(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)
	assert.ErrorIs(t, m.submitConflict(ctx, job.ID, "eval-b"), core.ErrLeaseExpired)
}
