package core

import "time"

// DefaultLeaseDuration is the lease window granted on claim when the
// manager is not configured otherwise.
const DefaultLeaseDuration = 30 * time.Minute

// Lease is the ephemeral ownership view returned to a claiming evaluator.
// It is derived from the job record, never stored on its own.
type Lease struct {
	JobID     string    `json:"job_id"`
	Holder    string    `json:"holder"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Token is the job's concurrency token as of the claim. A submit or
	// release presenting a lease with a stale token is rejected.
	Token uint64 `json:"token"`
}

// Remaining returns the time left on the lease at now, or zero if expired.
func (l Lease) Remaining(now time.Time) time.Duration {
	if d := l.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LeaseOf derives the lease view from a claimed job.
func LeaseOf(j *Job) Lease {
	l := Lease{
		JobID:  j.ID,
		Holder: j.HolderID,
		Token:  j.Token,
	}
	if j.ClaimedAt != nil {
		l.ClaimedAt = *j.ClaimedAt
	}
	if j.ExpiresAt != nil {
		l.ExpiresAt = *j.ExpiresAt
	}
	return l
}
