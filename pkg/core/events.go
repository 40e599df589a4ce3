package core

import "time"

// Event is the interface for all lifecycle and marketplace events.
type Event interface {
	eventMarker()
}

// JobSubmitted is emitted when a job is accepted and persisted.
type JobSubmitted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobSubmitted) eventMarker() {}

// JobStarted is emitted when a job enters Processing.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job reaches Completed.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job reaches Failed.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobCancelled is emitted when a Pending job is cancelled.
type JobCancelled struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}

// LeaseClaimed is emitted when an evaluator claims a marketplace job.
type LeaseClaimed struct {
	Lease     Lease
	Timestamp time.Time
}

func (*LeaseClaimed) eventMarker() {}

// LeaseReleased is emitted on a voluntary early release.
type LeaseReleased struct {
	JobID     string
	Holder    string
	Reason    string
	Timestamp time.Time
}

func (*LeaseReleased) eventMarker() {}

// LeaseExpired is emitted when the sweep reclaims an expired lease.
type LeaseExpired struct {
	JobID     string
	Holder    string
	Requeued  bool
	Timestamp time.Time
}

func (*LeaseExpired) eventMarker() {}
