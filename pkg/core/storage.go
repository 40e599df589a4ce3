package core

import (
	"context"
	"time"
)

// Filter narrows a Store query. Zero values mean "any".
type Filter struct {
	Owner    string
	State    JobState
	Mode     JobMode
	Pipeline string
	Limit    int
}

// Store defines the persistence layer for jobs. It is the single source of
// truth; in-memory structures (admission counters, the marketplace index)
// are caches rebuilt from it.
type Store interface {
	// Migrate creates the necessary tables.
	Migrate(ctx context.Context) error

	// Create persists a new job. The job's ID is assigned if empty and
	// its state defaults to Pending.
	Create(ctx context.Context, job *Job) error

	// Get returns a job by ID, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Query returns jobs matching the filter.
	Query(ctx context.Context, f Filter) ([]*Job, error)

	// UpdateIfTokenMatches loads the job, verifies its token still equals
	// expected, applies mutate, increments the token, and writes the whole
	// record back guarded by a WHERE clause on the old token. It returns
	// ErrTokenConflict when another writer got there first and ErrNotFound
	// when the job does not exist. Errors from mutate abort the update
	// untouched.
	UpdateIfTokenMatches(ctx context.Context, jobID string, expected uint64, mutate func(*Job) error) (*Job, error)

	// ListExpiredLeases returns Processing jobs whose lease window passed
	// before now.
	ListExpiredLeases(ctx context.Context, now time.Time) ([]*Job, error)

	// CountActiveByOwner returns the number of non-terminal jobs per
	// owner, used to rebuild admission counters after a restart.
	CountActiveByOwner(ctx context.Context) (map[string]int, error)
}
