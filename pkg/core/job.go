// Package core provides the domain models and interfaces for the conveyor package.
package core

import (
	"time"
)

// ResultStatus is the terminal classification of one execution attempt.
type ResultStatus string

const (
	StatusSuccessful ResultStatus = "successful"
	StatusErrored    ResultStatus = "errored"
	StatusCancelled  ResultStatus = "cancelled"
	StatusDeferred   ResultStatus = "deferred"
	StatusLost       ResultStatus = "lost"
)

// JobRequest is a queued, not-yet-claimed unit of work.
//
// The row id is used only for database ordering; UUID is the stable
// identity across the request's lifetime. A request is deleted the
// instant a worker claims it and converts it to a JobProcess.
type JobRequest struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	UUID string `gorm:"uniqueIndex;size:36;not null"`

	JobClass   string `gorm:"index;size:255;not null"`
	Parameters []byte `gorm:"type:bytes"`
	Source     string `gorm:"size:512"` // file:line of the enqueue call site, best effort

	Queue    string     `gorm:"index;size:255;default:'default'"`
	Priority int        `gorm:"index;default:0"` // higher runs first
	StartAt  *time.Time `gorm:"index"`           // nil means ready immediately

	Retries        int    `gorm:"default:0"`
	RetryAttempt   int    `gorm:"default:0"`
	ConcurrencyKey string `gorm:"index:idx_job_requests_class_key;size:255"`

	TraceID string `gorm:"size:64"`
	SpanID  string `gorm:"size:64"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// JobProcess is a claimed unit of work, possibly executing.
//
// JobRequestUUID points back at the originating request, which no
// longer exists as a row. StartedAt is nil while the process is merely
// claimed and waiting for an executor slot.
type JobProcess struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	UUID string `gorm:"uniqueIndex;size:36;not null"`

	JobRequestUUID string `gorm:"index;size:36;not null"`

	JobClass   string `gorm:"index;size:255;not null"`
	Parameters []byte `gorm:"type:bytes"`
	Source     string `gorm:"size:512"`

	Queue    string     `gorm:"index;size:255;default:'default'"`
	Priority int        `gorm:"default:0"`
	StartAt  *time.Time

	Retries        int    `gorm:"default:0"`
	RetryAttempt   int    `gorm:"default:0"`
	ConcurrencyKey string `gorm:"index:idx_job_processes_class_key;size:255"`

	TraceID string `gorm:"size:64"`
	SpanID  string `gorm:"size:64"`

	StartedAt *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// JobResult is the terminal record of one execution attempt.
//
// Immutable once written, except RetryJobRequestUUID which is
// back-filled when a retry has been scheduled, and RetryAttempt which
// the sweep bumps when a retry itself fails permanently.
type JobResult struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	UUID string `gorm:"uniqueIndex;size:36;not null"`

	JobProcessUUID string `gorm:"index;size:36;not null"`
	JobRequestUUID string `gorm:"index;size:36;not null"`

	JobClass   string `gorm:"index;size:255;not null"`
	Parameters []byte `gorm:"type:bytes"`
	Source     string `gorm:"size:512"`

	Queue    string `gorm:"index;size:255;default:'default'"`
	Priority int    `gorm:"default:0"`

	Retries        int    `gorm:"default:0"`
	RetryAttempt   int    `gorm:"default:0"`
	ConcurrencyKey string `gorm:"size:255"`

	TraceID string `gorm:"size:64"`
	SpanID  string `gorm:"size:64"`

	Status ResultStatus `gorm:"index;size:20;not null"`
	Error  string       `gorm:"type:text"`

	StartedAt *time.Time
	EndedAt   *time.Time

	// Set once a retry or defer has been re-enqueued; prevents double-retry.
	RetryJobRequestUUID *string `gorm:"index;size:36"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// Retryable reports whether the retry sweep should re-enqueue this result.
func (r *JobResult) Retryable() bool {
	switch r.Status {
	case StatusErrored, StatusLost, StatusCancelled:
	default:
		return false
	}
	return r.RetryJobRequestUUID == nil && r.Retries > 0 && r.RetryAttempt < r.Retries
}
