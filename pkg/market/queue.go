// Package market implements the evaluator-facing side of the system: the
// queue of claimable jobs, the lease protocol, and the expiry sweep.
package market

import (
	"context"
	"sort"
	"sync"

	"github.com/oraclade/predictmarket/pkg/core"
)

// SortKey orders a marketplace listing.
type SortKey string

const (
	SortByPriority SortKey = "priority"
	SortByPayment  SortKey = "payment"
	SortByCreated  SortKey = "created"
)

// ListFilters narrows and orders a ListPending call. Zero values mean "any".
type ListFilters struct {
	Pipeline   string
	MinPayment float64
	SortBy     SortKey
	Limit      int
}

// Queue is the in-memory index of Pending marketplace jobs visible to
// evaluators. It is not the authority on claimability: concurrent claims
// race on the job's concurrency token in the store, and the index merely
// reflects the outcome.
type Queue struct {
	mu      sync.Mutex
	entries map[string]core.Summary
}

// NewQueue creates an empty marketplace index.
func NewQueue() *Queue {
	return &Queue{entries: make(map[string]core.Summary)}
}

// Enqueue makes a job visible to evaluators.
func (q *Queue) Enqueue(s core.Summary) {
	q.mu.Lock()
	q.entries[s.ID] = s
	q.mu.Unlock()
}

// Remove hides a job from listings. Removing an absent job is a no-op.
func (q *Queue) Remove(jobID string) {
	q.mu.Lock()
	delete(q.entries, jobID)
	q.mu.Unlock()
}

// Len returns the number of listed jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// ListPending returns the matching summaries ordered by the filter's sort
// key (priority descending by default, created-at ascending as tiebreak).
func (q *Queue) ListPending(f ListFilters) []core.Summary {
	q.mu.Lock()
	out := make([]core.Summary, 0, len(q.entries))
	for _, s := range q.entries {
		if f.Pipeline != "" && s.Pipeline != f.Pipeline {
			continue
		}
		if s.Payment < f.MinPayment {
			continue
		}
		out = append(out, s)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch f.SortBy {
		case SortByPayment:
			if a.Payment != b.Payment {
				return a.Payment > b.Payment
			}
		case SortByCreated:
			// fall through to the created-at tiebreak
		default:
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Reload rebuilds the index from the store, keeping only Pending
// marketplace jobs. Called once at startup before evaluators connect.
func (q *Queue) Reload(ctx context.Context, store core.Store) error {
	jobs, err := store.Query(ctx, core.Filter{
		State: core.StatePending,
		Mode:  core.ModeMarketplace,
	})
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[string]core.Summary, len(jobs))
	for _, job := range jobs {
		q.entries[job.ID] = core.SummaryOf(job)
	}
	return nil
}
