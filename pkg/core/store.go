package core

import (
	"context"
	"time"
)

// Starter is the interface for starting workers.
type Starter interface {
	Start(ctx context.Context) error
}

// EnqueueCheck decides, given the number of pending requests and
// processes that share the new request's (job class, concurrency key)
// pair, whether the enqueue should proceed. The store evaluates it
// inside the enqueue transaction with the advisory lock held. A nil
// check means the default at-most-one policy (proceed only when the
// count is zero).
type EnqueueCheck func(pending int64) bool

// QueueStat holds per-queue record counts across the three tables.
type QueueStat struct {
	Queue      string
	Requests   int64
	Processes  int64
	Successful int64
	Errored    int64
	Cancelled  int64
	Deferred   int64
	Lost       int64
}

// Store defines the persistence layer for the job pipeline.
//
// Every multi-row transition is a single atomic transaction; partial
// application would create duplicate or ghost work.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Enqueue inserts a request. When the request carries a
	// concurrency key the insert happens in a transaction that holds
	// the advisory lock for (job class, key) and re-checks the dedup
	// policy under it; a blocked enqueue returns ErrDuplicateJob.
	Enqueue(ctx context.Context, req *JobRequest, check EnqueueCheck) error

	// ClaimNext claims the best ready request on the given queues and
	// converts it to a process in one transaction, using row locking
	// that skips rows claimed by concurrent workers. Returns nil, nil
	// when no request is ready.
	ClaimNext(ctx context.Context, queues []string) (*JobProcess, error)

	// ConvertToProcess converts a specific request to a process.
	ConvertToProcess(ctx context.Context, req *JobRequest) (*JobProcess, error)

	// MarkStarted stamps started_at on a claimed process.
	MarkStarted(ctx context.Context, processUUID string) (*JobProcess, error)

	// GetProcess loads a process by uuid. Returns ErrProcessNotFound
	// when no such row exists.
	GetProcess(ctx context.Context, processUUID string) (*JobProcess, error)

	// ConvertToResult terminates a process with the given status.
	ConvertToResult(ctx context.Context, proc *JobProcess, status ResultStatus, errMsg string) (*JobResult, error)

	// Defer atomically deletes the process, re-enqueues a request
	// delayed by delay (incrementing the attempt counter when
	// incrementAttempt is set) and records a deferred result linking
	// to it. When the re-enqueue is policy-blocked the whole
	// transaction rolls back, the process row is untouched and
	// ErrDeferBlocked is returned.
	Defer(ctx context.Context, proc *JobProcess, delay time.Duration, incrementAttempt bool) (*JobResult, error)

	// MarkLost converts processes older than timeout to lost results.
	MarkLost(ctx context.Context, queues []string, timeout time.Duration) (int64, error)

	// ListRetryable returns results eligible for the retry sweep.
	ListRetryable(ctx context.Context, queues []string, limit int) ([]*JobResult, error)

	// LinkRetry back-fills retry_job_request_uuid on a result.
	LinkRetry(ctx context.Context, resultUUID, newRequestUUID string) error

	// BumpResultAttempt force-increments a result's attempt counter so
	// a permanently failing retry is not re-attempted forever.
	BumpResultAttempt(ctx context.Context, resultUUID string) error

	// PurgeExpired deletes results older than the retention cutoff.
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)

	// PurgeProcessing deletes every process row.
	PurgeProcessing(ctx context.Context) (int64, error)

	// ClearCompleted deletes successful results.
	ClearCompleted(ctx context.Context) (int64, error)

	// CountPending counts requests plus processes matching the given
	// job class and concurrency key.
	CountPending(ctx context.Context, jobClass, concurrencyKey string) (int64, error)

	// QueueStats returns per-queue record counts.
	QueueStats(ctx context.Context) ([]QueueStat, error)
}
