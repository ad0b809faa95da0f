// Package job defines the unit-of-work contract and the class registry.
package job

import (
	"context"
	"time"
)

// Job is a named, instantiable unit of work. Implementations are built
// by a registered Factory from the arguments captured at enqueue time;
// anything the job mutates on itself during Run is never persisted.
type Job interface {
	Run(ctx context.Context) error
}

// The optional interfaces below are policy hooks a job type may
// implement to override enqueue defaults.

// QueueDefaulter overrides the logical queue (default "default").
type QueueDefaulter interface {
	DefaultQueue() string
}

// PriorityDefaulter overrides the priority (default 0; higher runs first).
type PriorityDefaulter interface {
	DefaultPriority() int
}

// RetriesDefaulter overrides the retry budget (default 0).
type RetriesDefaulter interface {
	DefaultRetries() int
}

// ConcurrencyKeyer supplies a concurrency key (default "", no dedup).
type ConcurrencyKeyer interface {
	DefaultConcurrencyKey() string
}

// RetryDelayer computes the delay before the Nth retry (default 0).
type RetryDelayer interface {
	CalculateRetryDelay(attempt int) time.Duration
}

// EnqueuePolicy decides whether to enqueue given the number of pending
// requests and processes sharing the job's class and concurrency key.
// The default allows the enqueue only when that count is zero.
type EnqueuePolicy interface {
	ShouldEnqueue(pending int64) bool
}

// Policy is the resolved set of enqueue defaults for a job instance.
type Policy struct {
	Queue          string
	Priority       int
	Retries        int
	ConcurrencyKey string
}

// PolicyOf resolves a job's enqueue defaults by probing its optional
// policy hooks.
func PolicyOf(j Job) Policy {
	p := Policy{Queue: "default"}
	if q, ok := j.(QueueDefaulter); ok {
		p.Queue = q.DefaultQueue()
	}
	if pr, ok := j.(PriorityDefaulter); ok {
		p.Priority = pr.DefaultPriority()
	}
	if r, ok := j.(RetriesDefaulter); ok {
		p.Retries = r.DefaultRetries()
	}
	if c, ok := j.(ConcurrencyKeyer); ok {
		p.ConcurrencyKey = c.DefaultConcurrencyKey()
	}
	return p
}

// RetryDelay returns the job's delay before the given retry attempt.
func RetryDelay(j Job, attempt int) time.Duration {
	if d, ok := j.(RetryDelayer); ok {
		return d.CalculateRetryDelay(attempt)
	}
	return 0
}

// ShouldEnqueue applies the job's enqueue policy to a pending count.
func ShouldEnqueue(j Job, pending int64) bool {
	if p, ok := j.(EnqueuePolicy); ok {
		return p.ShouldEnqueue(pending)
	}
	return pending == 0
}
