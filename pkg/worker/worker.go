package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/pkg/client"
	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/middleware"
)

// State is the scheduler lifecycle: RUNNING → SHUTTING_DOWN → STOPPED.
type State int32

const (
	StateRunning State = iota + 1
	StateShuttingDown
	StateStopped
)

const (
	// Lost-job and failed-retry sweeps, and cron schedule ticks, are
	// fixed at one minute; only stats logging is configurable.
	sweepInterval        = time.Minute
	scheduleTickInterval = time.Minute

	retrySweepBatch = 100
)

// Worker is the worker pool scheduler: a single-threaded control loop
// that claims ready requests, dispatches them to a bounded executor
// pool, runs periodic maintenance, and drains gracefully on shutdown.
type Worker struct {
	client *client.Client
	config Config
	logger *slog.Logger

	chain middleware.Handler
	pool  *execPool

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	inFlight atomic.Int64

	lastStats time.Time
	lastSweep time.Time
	lastTick  time.Time
}

// NewWorker creates a worker over the given client.
func NewWorker(c *client.Client, opts ...Option) *Worker {
	config := Config{
		Queues:               []string{"default"},
		MaxProcesses:         10,
		MaxPendingPerProcess: 1,
		PollInterval:         time.Second,
		BackpressureInterval: 200 * time.Millisecond,
		StatsInterval:        time.Minute,
		LostTimeout:          30 * time.Minute,
		WorkerID:             uuid.New().String(),
	}
	for _, opt := range opts {
		opt.applyWorker(&config)
	}
	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}

	w := &Worker{
		client: c,
		config: config,
		logger: slog.Default(),
		stopCh: make(chan struct{}),
	}

	// Default middleware first, so the logging/tracing context wraps
	// everything the user configures.
	mws := append(
		[]middleware.Middleware{middleware.Logging(w.logger), middleware.Tracing(c.Tracer())},
		config.Middlewares...,
	)
	w.chain = middleware.Chain(w.runProcess, mws...)
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// InFlight returns the number of dispatched-but-unfinished units.
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

// Stop triggers graceful shutdown. Idempotent; the first call wins.
// Running jobs finish, queued-but-not-started work is cancelled, and
// Start returns once the drain completes.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown))
		close(w.stopCh)
	})
}

// Start runs the control loop. It blocks until shutdown is triggered
// by Stop or by context cancellation and the drain has completed.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(0, int32(StateRunning)) {
		return errors.New("conveyor: worker already started")
	}
	if !w.client.Registry().Ready() {
		w.state.Store(int32(StateStopped))
		return core.ErrRegistryNotReady
	}

	limit := w.config.MaxProcesses * w.config.MaxPendingPerProcess
	w.pool = newExecPool(w.config.MaxProcesses, w.config.MaxJobsPerProcess, limit, w.execute)

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	}()

	w.logger.Info("worker started",
		"worker_id", w.config.WorkerID,
		"queues", w.config.Queues,
		"max_processes", w.config.MaxProcesses,
	)

	for w.State() == StateRunning {
		w.maintenance(ctx)

		// Backpressure: work sitting in the in-memory backlog is lost
		// on a restart, work sitting as a request row survives one.
		// Leave work unclaimed as long as possible.
		if w.inFlight.Load() >= int64(limit) {
			w.sleep(w.config.BackpressureInterval)
			continue
		}

		proc, err := w.claimWithRetry(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Error("failed to claim after retries", "error", err)
			}
			w.sleep(w.config.PollInterval)
			continue
		}
		if proc == nil {
			w.sleep(w.config.PollInterval)
			continue
		}

		w.inFlight.Add(1)
		if !w.pool.submit(task{processUUID: proc.UUID}) {
			// Shutdown raced the claim.
			w.inFlight.Add(-1)
			w.cancelProcess(context.Background(), proc.UUID)
		}
	}

	// Drain: running jobs finish, the backlog is reaped as cancelled.
	for _, t := range w.pool.shutdown() {
		w.inFlight.Add(-1)
		w.cancelProcess(context.Background(), t.processUUID)
	}

	w.state.Store(int32(StateStopped))
	w.logger.Info("worker stopped", "worker_id", w.config.WorkerID)
	return nil
}

func (w *Worker) claimWithRetry(ctx context.Context) (*core.JobProcess, error) {
	var proc *core.JobProcess
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		var claimErr error
		proc, claimErr = w.client.Store().ClaimNext(ctx, w.config.Queues)
		return claimErr
	})
	return proc, err
}

// sleep waits for d or until shutdown, whichever comes first.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// maintenance runs the three self-throttled checks. Failures are
// logged and never stop the loop; these are auxiliary to claiming.
func (w *Worker) maintenance(ctx context.Context) {
	now := time.Now()

	if w.config.StatsInterval > 0 && now.Sub(w.lastStats) >= w.config.StatsInterval {
		w.lastStats = now
		if err := w.logStats(ctx); err != nil {
			w.logger.Error("stats check failed", "error", err)
		}
	}

	if now.Sub(w.lastSweep) >= sweepInterval {
		w.lastSweep = now
		w.sweep(ctx)
	}

	if now.Sub(w.lastTick) >= scheduleTickInterval {
		w.lastTick = now
		w.tickSchedules(ctx, now)
	}
}

func (w *Worker) logStats(ctx context.Context) error {
	stats, err := w.client.Store().QueueStats(ctx)
	if err != nil {
		return err
	}
	for _, qs := range stats {
		w.logger.Info("queue stats",
			"queue", qs.Queue,
			"requests", qs.Requests,
			"processes", qs.Processes,
			"successful", qs.Successful,
			"errored", qs.Errored,
			"cancelled", qs.Cancelled,
			"deferred", qs.Deferred,
			"lost", qs.Lost,
			"in_flight", w.inFlight.Load(),
		)
	}
	return nil
}

// sweep reclassifies aged-out processes as lost, schedules retries for
// retryable results, and prunes expired results when retention is set.
func (w *Worker) sweep(ctx context.Context) {
	store := w.client.Store()

	lost, err := store.MarkLost(ctx, w.config.Queues, w.config.LostTimeout)
	if err != nil {
		w.logger.Error("lost-job sweep failed", "error", err)
	} else if lost > 0 {
		w.logger.Warn("reclassified lost jobs", "count", lost)
		w.client.Emit(&core.ProcessLost{Count: lost, Queues: w.config.Queues, Timestamp: time.Now()})
	}

	results, err := store.ListRetryable(ctx, w.config.Queues, retrySweepBatch)
	if err != nil {
		w.logger.Error("retry sweep failed", "error", err)
		results = nil
	}
	for _, res := range results {
		if _, err := w.client.RetryResult(ctx, res); err != nil {
			if errors.Is(err, core.ErrDuplicateJob) {
				// The class + key pair is busy again; a later sweep
				// picks this result up.
				continue
			}
			w.logger.Error("retry scheduling failed",
				"job_result_uuid", res.UUID,
				"job_class", res.JobClass,
				"error", err,
			)
			// Fail forward: burn an attempt so a permanently broken
			// result cannot wedge the sweep.
			if bErr := store.BumpResultAttempt(ctx, res.UUID); bErr != nil {
				w.logger.Error("failed to bump retry attempt", "job_result_uuid", res.UUID, "error", bErr)
			}
		}
	}

	if w.config.ResultRetention > 0 {
		if _, err := store.PurgeExpired(ctx, w.config.ResultRetention); err != nil {
			w.logger.Error("result retention sweep failed", "error", err)
		}
	}
}

// tickSchedules enqueues the next occurrence of every recurring job
// whose queue this worker serves. The synthetic concurrency key
// derived from the occurrence time makes concurrent scheduler
// instances dedup to a single request per occurrence.
func (w *Worker) tickSchedules(ctx context.Context, now time.Time) {
	queueSet := make(map[string]bool, len(w.config.Queues))
	for _, q := range w.config.Queues {
		queueSet[q] = true
	}

	for class, sj := range w.client.ScheduledJobs() {
		o, err := w.client.ResolveOptions(ctx, class, sj.Args, sj.Opts...)
		if err != nil {
			w.logger.Error("schedule tick: resolve failed", "job_class", class, "error", err)
			continue
		}
		if !queueSet[o.Queue] {
			continue
		}

		next := sj.Schedule.Next(now)
		if next.IsZero() {
			w.logger.Warn("schedule has no next occurrence", "job_class", class)
			continue
		}

		key := fmt.Sprintf("%s:scheduled:%d", class, next.Unix())
		opts := append(append([]job.Option{}, sj.Opts...), job.ConcurrencyKey(key), job.At(next))
		if _, err := w.client.RunInWorker(ctx, class, sj.Args, opts...); err != nil {
			if errors.Is(err, core.ErrDuplicateJob) {
				// Already scheduled by this or another instance.
				continue
			}
			w.logger.Error("failed to enqueue scheduled job", "job_class", class, "error", err)
		}
	}
}
