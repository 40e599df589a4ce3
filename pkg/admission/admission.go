// Package admission enforces the per-principal cap on concurrently
// in-flight jobs.
package admission

import (
	"context"
	"sync"

	"github.com/oraclade/predictmarket/pkg/core"
)

// DefaultLimit is the per-principal cap on jobs in Pending or Processing.
const DefaultLimit = 10

// Controller tracks in-flight job counts per principal. The counters are a
// process-local cache for fast-path rejection, never the durability
// boundary: Recover rebuilds them from the store after a restart.
//
// The reserve/bind/release cycle keeps release idempotent per job:
// TryAdmit reserves a slot before the job exists, Bind ties the slot to the
// job ID once it does, and Release decrements at most once per bound job no
// matter how many paths reach the terminal transition.
type Controller struct {
	mu     sync.Mutex
	limit  int
	active map[string]int    // principal -> in-flight count
	bound  map[string]string // job ID -> principal
}

// NewController creates a controller with the given per-principal limit.
// A non-positive limit falls back to DefaultLimit.
func NewController(limit int) *Controller {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Controller{
		limit:  limit,
		active: make(map[string]int),
		bound:  make(map[string]string),
	}
}

// Limit returns the configured per-principal cap.
func (c *Controller) Limit() int {
	return c.limit
}

// TryAdmit atomically checks-and-increments the principal's counter.
// It returns false when the principal is already at the limit. Anonymous
// principals (empty string) are not gated.
func (c *Controller) TryAdmit(principal string) bool {
	if principal == "" {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[principal] >= c.limit {
		return false
	}
	c.active[principal]++
	return true
}

// Bind ties a previously admitted slot to a job ID so Release can
// decrement exactly once for that job.
func (c *Controller) Bind(jobID, principal string) {
	if principal == "" {
		return
	}
	c.mu.Lock()
	c.bound[jobID] = principal
	c.mu.Unlock()
}

// Abort undoes a TryAdmit when job creation failed before Bind was called.
func (c *Controller) Abort(principal string) {
	if principal == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[principal] > 0 {
		c.active[principal]--
	}
	if c.active[principal] == 0 {
		delete(c.active, principal)
	}
}

// Release decrements the principal's counter for a bound job. Calling it
// again for the same job has no further effect.
func (c *Controller) Release(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	principal, ok := c.bound[jobID]
	if !ok {
		return
	}
	delete(c.bound, jobID)
	if c.active[principal] > 0 {
		c.active[principal]--
	}
	if c.active[principal] == 0 {
		delete(c.active, principal)
	}
}

// InFlight returns the current count for a principal.
func (c *Controller) InFlight(principal string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[principal]
}

// Recover rebuilds the counters from the store after a process restart.
// Jobs found in a non-terminal state are re-bound so their eventual
// terminal transition decrements correctly.
func (c *Controller) Recover(ctx context.Context, store core.Store) error {
	counts, err := store.CountActiveByOwner(ctx)
	if err != nil {
		return err
	}

	pending, err := store.Query(ctx, core.Filter{State: core.StatePending})
	if err != nil {
		return err
	}
	processing, err := store.Query(ctx, core.Filter{State: core.StateProcessing})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = make(map[string]int, len(counts))
	for owner, n := range counts {
		c.active[owner] = n
	}
	c.bound = make(map[string]string)
	for _, job := range pending {
		if job.Owner != "" {
			c.bound[job.ID] = job.Owner
		}
	}
	for _, job := range processing {
		if job.Owner != "" {
			c.bound[job.ID] = job.Owner
		}
	}
	return nil
}
