// Package core provides the domain model and interfaces for the prediction
// marketplace: the Job record, its state machine, lease annotations, and the
// Store contract the rest of the module is built on.
package core

import (
	"time"
)

// JobState represents the current lifecycle state of a job.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step of the
// lifecycle graph. Terminal states admit nothing; Pending may begin
// processing or be cancelled; Processing may finish, or return to Pending
// when a marketplace lease is released or reclaimed.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case StatePending:
		return next == StateProcessing || next == StateCancelled
	case StateProcessing:
		return next == StateCompleted || next == StateFailed || next == StatePending
	}
	return false
}

// JobMode decides at creation time which path drives a job to completion.
// The two paths are mutually exclusive for the life of the job.
type JobMode string

const (
	// ModeOrchestrated jobs are executed by the orchestrator's own pool.
	ModeOrchestrated JobMode = "orchestrated"
	// ModeMarketplace jobs wait in the marketplace queue for an evaluator
	// to claim them under a lease.
	ModeMarketplace JobMode = "marketplace"
)

// Job is a unit of requested prediction work tracked through its lifecycle.
//
// Every successful mutation increments Token; all writers go through
// Store.UpdateIfTokenMatches so concurrent mutations of the same job are
// totally ordered and losers observe a stale token instead of clobbering.
type Job struct {
	ID    string   `gorm:"primaryKey;size:36"`
	Owner string   `gorm:"index:idx_jobs_owner_state;size:255"`
	State JobState `gorm:"index:idx_jobs_owner_state;index:idx_jobs_state;size:20;default:'pending'"`
	Mode  JobMode  `gorm:"index;size:20;default:'orchestrated'"`

	// Input is the opaque request payload (symbol, horizon, plugin names,
	// parameters). The core hands it to plugins without interpreting it.
	Input []byte `gorm:"type:bytes"`

	// Pipeline is the registered pipeline plugin name that produces the
	// result for this job.
	Pipeline string `gorm:"size:255;not null"`

	// Result is non-empty if and only if State == StateCompleted.
	Result []byte `gorm:"type:bytes"`
	// Error is non-empty if and only if State == StateFailed.
	Error string `gorm:"type:text"`

	// Marketplace listing attributes.
	Priority int     `gorm:"index;default:0"`
	Payment  float64 `gorm:"default:0"` // offered payment, opaque units

	// Settlement, recorded at evaluator submit time.
	Score  float64 `gorm:"default:0"`
	Payout float64 `gorm:"default:0"`

	// Lease annotation. A lease is never persisted independently of its
	// job: these fields are the lease.
	HolderID   string `gorm:"size:255"`
	ClaimedAt  *time.Time
	ExpiresAt  *time.Time `gorm:"index"`
	ClaimCount int        `gorm:"default:0"`

	// Token is the optimistic concurrency counter.
	Token uint64 `gorm:"default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Leased reports whether the job carries a lease that is still live at now.
func (j *Job) Leased(now time.Time) bool {
	return j.HolderID != "" && j.ExpiresAt != nil && j.ExpiresAt.After(now)
}

// LeaseExpired reports whether the job carries a lease whose window has
// passed at now.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.HolderID != "" && j.ExpiresAt != nil && !j.ExpiresAt.After(now)
}

// ClearLease removes the lease annotation.
func (j *Job) ClearLease() {
	j.HolderID = ""
	j.ClaimedAt = nil
	j.ExpiresAt = nil
}

// Summary is the marketplace listing view of a pending job.
type Summary struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	Priority  int       `json:"priority"`
	Payment   float64   `json:"payment"`
	CreatedAt time.Time `json:"created_at"`
}

// SummaryOf builds the listing view for a job.
func SummaryOf(j *Job) Summary {
	return Summary{
		ID:        j.ID,
		Pipeline:  j.Pipeline,
		Priority:  j.Priority,
		Payment:   j.Payment,
		CreatedAt: j.CreatedAt,
	}
}
