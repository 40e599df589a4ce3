package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
}

func TestJobState_CanTransition(t *testing.T) {
	cases := []struct {
		from, to JobState
		ok       bool
	}{
		{StatePending, StateProcessing, true},
		{StatePending, StateCancelled, true},
		{StatePending, StateCompleted, false},
		{StatePending, StateFailed, false},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateFailed, true},
		{StateProcessing, StatePending, true}, // marketplace requeue
		{StateProcessing, StateCancelled, false},
		{StateCompleted, StateProcessing, false},
		{StateCompleted, StatePending, false},
		{StateFailed, StatePending, false},
		{StateCancelled, StateProcessing, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJob_LeaseHelpers(t *testing.T) {
	now := time.Now()
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	unleased := &Job{}
	assert.False(t, unleased.Leased(now))
	assert.False(t, unleased.LeaseExpired(now))

	live := &Job{HolderID: "eval-1", ClaimedAt: &now, ExpiresAt: &future}
	assert.True(t, live.Leased(now))
	assert.False(t, live.LeaseExpired(now))

	stale := &Job{HolderID: "eval-1", ClaimedAt: &past, ExpiresAt: &past}
	assert.False(t, stale.Leased(now))
	assert.True(t, stale.LeaseExpired(now))

	stale.ClearLease()
	assert.Empty(t, stale.HolderID)
	assert.Nil(t, stale.ClaimedAt)
	assert.Nil(t, stale.ExpiresAt)
	assert.False(t, stale.LeaseExpired(now))
}

func TestLeaseOf(t *testing.T) {
	claimed := time.Now()
	expires := claimed.Add(30 * time.Minute)
	job := &Job{
		ID:        "job-1",
		HolderID:  "eval-1",
		ClaimedAt: &claimed,
		ExpiresAt: &expires,
		Token:     7,
	}

	lease := LeaseOf(job)
	assert.Equal(t, "job-1", lease.JobID)
	assert.Equal(t, "eval-1", lease.Holder)
	assert.Equal(t, claimed, lease.ClaimedAt)
	assert.Equal(t, expires, lease.ExpiresAt)
	assert.Equal(t, uint64(7), lease.Token)

	assert.Equal(t, 30*time.Minute, lease.Remaining(claimed))
	assert.Equal(t, time.Duration(0), lease.Remaining(expires.Add(time.Second)))
}

func TestSummaryOf(t *testing.T) {
	job := &Job{
		ID:       "job-2",
		Pipeline: "default",
		Priority: 3,
		Payment:  12.5,
	}
	s := SummaryOf(job)
	assert.Equal(t, "job-2", s.ID)
	assert.Equal(t, "default", s.Pipeline)
	assert.Equal(t, 3, s.Priority)
	assert.Equal(t, 12.5, s.Payment)
}
