// Package storage provides the GORM-backed queue store for the conveyor package.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/security"
)

// GormStore implements core.Store using GORM.
//
// Requests, processes and results live in three tables; every
// multi-row transition runs in one transaction so a record exists in
// exactly one table at any instant.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying connection.
func (s *GormStore) DB() *gorm.DB { return s.db }

// IsSQLite reports whether the store runs on SQLite. SQLite has no
// SKIP LOCKED or advisory locks; single-writer serialization stands in
// for both.
func (s *GormStore) IsSQLite() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.JobRequest{},
		&core.JobProcess{},
		&core.JobResult{},
	)
}

// Enqueue inserts a request. When a concurrency key is set the insert
// runs in a transaction holding the advisory lock for (job class, key)
// and re-checks the dedup policy under it, closing the race between
// the caller's policy check and the insert.
func (s *GormStore) Enqueue(ctx context.Context, req *core.JobRequest, check core.EnqueueCheck) error {
	applyRequestDefaults(req)
	if err := security.ValidateConcurrencyKey(req.ConcurrencyKey); err != nil {
		return err
	}

	if req.ConcurrencyKey == "" {
		return s.db.WithContext(ctx).Create(req).Error
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.enqueueTx(tx, req, check)
	})
}

// enqueueTx is the lock-check-insert step shared by Enqueue and Defer.
// It must run inside a transaction.
func (s *GormStore) enqueueTx(tx *gorm.DB, req *core.JobRequest, check core.EnqueueCheck) error {
	applyRequestDefaults(req)

	if req.ConcurrencyKey == "" {
		return tx.Create(req).Error
	}

	if err := s.acquireEnqueueLock(tx, req.JobClass, req.ConcurrencyKey); err != nil {
		return err
	}

	pending, err := countPendingTx(tx, req.JobClass, req.ConcurrencyKey)
	if err != nil {
		return err
	}
	allowed := pending == 0
	if check != nil {
		allowed = check(pending)
	}
	if !allowed {
		return core.ErrDuplicateJob
	}

	return tx.Create(req).Error
}

// ClaimNext claims the best ready request on the given queues and
// converts it to a process in a single transaction. Ready means
// start_at is null or in the past. Ordering contract: higher priority
// first, then latest start_at, then latest created_at. The select
// skips rows locked by concurrent claimers so workers never block each
// other nor double-claim.
func (s *GormStore) ClaimNext(ctx context.Context, queues []string) (*core.JobProcess, error) {
	var proc *core.JobProcess
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("queue IN ?", queues).
			Where("(start_at IS NULL OR start_at <= ?)", now).
			Order("priority DESC, start_at DESC, created_at DESC, id DESC")
		if !s.IsSQLite() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var req core.JobRequest
		if err := q.First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		p, err := convertToProcessTx(tx, &req)
		if err != nil {
			return err
		}
		proc = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// ConvertToProcess converts a specific request to a process.
func (s *GormStore) ConvertToProcess(ctx context.Context, req *core.JobRequest) (*core.JobProcess, error) {
	var proc *core.JobProcess
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := convertToProcessTx(tx, req)
		if err != nil {
			return err
		}
		proc = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// convertToProcessTx inserts the process copy and deletes the request
// inside the caller's transaction. The process row is what makes
// "claimed" durable if the worker dies immediately afterwards.
func convertToProcessTx(tx *gorm.DB, req *core.JobRequest) (*core.JobProcess, error) {
	proc := &core.JobProcess{
		UUID:           uuid.New().String(),
		JobRequestUUID: req.UUID,
		JobClass:       req.JobClass,
		Parameters:     req.Parameters,
		Source:         req.Source,
		Queue:          req.Queue,
		Priority:       req.Priority,
		StartAt:        req.StartAt,
		Retries:        req.Retries,
		RetryAttempt:   req.RetryAttempt,
		ConcurrencyKey: req.ConcurrencyKey,
		TraceID:        req.TraceID,
		SpanID:         req.SpanID,
	}
	if err := tx.Create(proc).Error; err != nil {
		return nil, err
	}

	del := tx.Delete(&core.JobRequest{}, "id = ?", req.ID)
	if del.Error != nil {
		return nil, del.Error
	}
	if del.RowsAffected == 0 {
		return nil, fmt.Errorf("conveyor: request %s already claimed", req.UUID)
	}
	return proc, nil
}

// MarkStarted stamps started_at on a claimed process.
func (s *GormStore) MarkStarted(ctx context.Context, processUUID string) (*core.JobProcess, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&core.JobProcess{}).
		Where("uuid = ?", processUUID).
		Update("started_at", now)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, core.ErrProcessNotFound
	}
	return s.GetProcess(ctx, processUUID)
}

// GetProcess loads a process by uuid.
func (s *GormStore) GetProcess(ctx context.Context, processUUID string) (*core.JobProcess, error) {
	var proc core.JobProcess
	err := s.db.WithContext(ctx).First(&proc, "uuid = ?", processUUID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrProcessNotFound
	}
	if err != nil {
		return nil, err
	}
	return &proc, nil
}

// ConvertToResult terminates a process with the given status.
func (s *GormStore) ConvertToResult(ctx context.Context, proc *core.JobProcess, status core.ResultStatus, errMsg string) (*core.JobResult, error) {
	var result *core.JobResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := convertToResultTx(tx, proc, status, errMsg)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func convertToResultTx(tx *gorm.DB, proc *core.JobProcess, status core.ResultStatus, errMsg string) (*core.JobResult, error) {
	result := resultFromProcess(proc, status, errMsg)

	del := tx.Delete(&core.JobProcess{}, "id = ?", proc.ID)
	if del.Error != nil {
		return nil, del.Error
	}
	if del.RowsAffected == 0 {
		return nil, core.ErrProcessNotFound
	}

	if err := tx.Create(result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func resultFromProcess(proc *core.JobProcess, status core.ResultStatus, errMsg string) *core.JobResult {
	now := time.Now()
	return &core.JobResult{
		UUID:           uuid.New().String(),
		JobProcessUUID: proc.UUID,
		JobRequestUUID: proc.JobRequestUUID,
		JobClass:       proc.JobClass,
		Parameters:     proc.Parameters,
		Source:         proc.Source,
		Queue:          proc.Queue,
		Priority:       proc.Priority,
		Retries:        proc.Retries,
		RetryAttempt:   proc.RetryAttempt,
		ConcurrencyKey: proc.ConcurrencyKey,
		TraceID:        proc.TraceID,
		SpanID:         proc.SpanID,
		Status:         status,
		Error:          security.SanitizeErrorMessage(errMsg),
		StartedAt:      proc.StartedAt,
		EndedAt:        &now,
	}
}

// Defer atomically deletes the process (releasing its concurrency slot
// so the re-enqueue cannot block on itself), re-enqueues a delayed
// request and records a deferred result linking to it. A policy-blocked
// re-enqueue rolls the whole transaction back, leaving the process row
// untouched, and returns core.ErrDeferBlocked.
func (s *GormStore) Defer(ctx context.Context, proc *core.JobProcess, delay time.Duration, incrementAttempt bool) (*core.JobResult, error) {
	var result *core.JobResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Delete(&core.JobProcess{}, "id = ?", proc.ID)
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected == 0 {
			return core.ErrProcessNotFound
		}

		attempt := proc.RetryAttempt
		if incrementAttempt {
			attempt++
		}
		startAt := time.Now().Add(delay)

		newReq := &core.JobRequest{
			UUID:           uuid.New().String(),
			JobClass:       proc.JobClass,
			Parameters:     proc.Parameters,
			Source:         proc.Source,
			Queue:          proc.Queue,
			Priority:       proc.Priority,
			StartAt:        &startAt,
			Retries:        proc.Retries,
			RetryAttempt:   attempt,
			ConcurrencyKey: proc.ConcurrencyKey,
			TraceID:        proc.TraceID,
			SpanID:         proc.SpanID,
		}
		if err := s.enqueueTx(tx, newReq, nil); err != nil {
			if errors.Is(err, core.ErrDuplicateJob) {
				return core.ErrDeferBlocked
			}
			return err
		}

		r := resultFromProcess(proc, core.StatusDeferred, "")
		r.RetryJobRequestUUID = &newReq.UUID
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkLost converts processes older than timeout to lost results,
// whether or not they ever started. A worker that dies without writing
// a result leaves only its process row; age is the only universal
// signal.
func (s *GormStore) MarkLost(ctx context.Context, queues []string, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	var count int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("created_at < ?", cutoff)
		if len(queues) > 0 {
			q = q.Where("queue IN ?", queues)
		}
		if !s.IsSQLite() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var procs []core.JobProcess
		if err := q.Find(&procs).Error; err != nil {
			return err
		}
		for i := range procs {
			if _, err := convertToResultTx(tx, &procs[i], core.StatusLost, "no outcome recorded before timeout"); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListRetryable returns results the retry sweep should re-enqueue:
// errored, lost or cancelled attempts with remaining retry budget and
// no retry scheduled yet.
func (s *GormStore) ListRetryable(ctx context.Context, queues []string, limit int) ([]*core.JobResult, error) {
	q := s.db.WithContext(ctx).
		Where("status IN ?", []core.ResultStatus{core.StatusErrored, core.StatusLost, core.StatusCancelled}).
		Where("retry_job_request_uuid IS NULL").
		Where("retries > 0").
		Where("retry_attempt < retries").
		Order("created_at ASC, id ASC")
	if len(queues) > 0 {
		q = q.Where("queue IN ?", queues)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var results []*core.JobResult
	err := q.Find(&results).Error
	return results, err
}

// LinkRetry back-fills retry_job_request_uuid on a result so the sweep
// never schedules a second retry for the same attempt.
func (s *GormStore) LinkRetry(ctx context.Context, resultUUID, newRequestUUID string) error {
	res := s.db.WithContext(ctx).
		Model(&core.JobResult{}).
		Where("uuid = ? AND retry_job_request_uuid IS NULL", resultUUID).
		Update("retry_job_request_uuid", newRequestUUID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conveyor: result %s not linkable", resultUUID)
	}
	return nil
}

// BumpResultAttempt force-increments a result's attempt counter. The
// sweep calls this when a retry itself fails (for example the job
// class no longer exists) so the result is not retried forever.
func (s *GormStore) BumpResultAttempt(ctx context.Context, resultUUID string) error {
	return s.db.WithContext(ctx).
		Model(&core.JobResult{}).
		Where("uuid = ?", resultUUID).
		UpdateColumn("retry_attempt", gorm.Expr("retry_attempt + 1")).Error
}

// PurgeExpired deletes results older than the retention cutoff.
func (s *GormStore) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&core.JobResult{})
	return res.RowsAffected, res.Error
}

// PurgeProcessing deletes all process rows. Operational escape hatch
// for a wedged processing table; claimed work is lost, not retried.
func (s *GormStore) PurgeProcessing(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&core.JobProcess{})
	return res.RowsAffected, res.Error
}

// ClearCompleted deletes successful results.
func (s *GormStore) ClearCompleted(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ?", core.StatusSuccessful).
		Delete(&core.JobResult{})
	return res.RowsAffected, res.Error
}

// CountPending counts requests plus processes for a class + key pair.
func (s *GormStore) CountPending(ctx context.Context, jobClass, concurrencyKey string) (int64, error) {
	return countPendingTx(s.db.WithContext(ctx), jobClass, concurrencyKey)
}

func countPendingTx(tx *gorm.DB, jobClass, concurrencyKey string) (int64, error) {
	var requests, processes int64
	err := tx.Model(&core.JobRequest{}).
		Where("job_class = ? AND concurrency_key = ?", jobClass, concurrencyKey).
		Count(&requests).Error
	if err != nil {
		return 0, err
	}
	err = tx.Model(&core.JobProcess{}).
		Where("job_class = ? AND concurrency_key = ?", jobClass, concurrencyKey).
		Count(&processes).Error
	if err != nil {
		return 0, err
	}
	return requests + processes, nil
}

func applyRequestDefaults(req *core.JobRequest) {
	if req.UUID == "" {
		req.UUID = uuid.New().String()
	}
	if req.Queue == "" {
		req.Queue = "default"
	}
}
