package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/middleware"
)

// execute runs one dispatched task in a pool slot. Jobs run to
// completion even during shutdown, so the context is detached from the
// worker's lifecycle.
func (w *Worker) execute(t task) {
	defer w.inFlight.Add(-1)

	ctx := context.Background()

	proc, err := w.client.Store().GetProcess(ctx, t.processUUID)
	if err != nil {
		w.logger.Error("failed to load dispatched process", "job_process_uuid", t.processUUID, "error", err)
		return
	}

	// Engine-level failures are logged, never allowed to crash the
	// slot; the process row stays behind for the lost-job sweep.
	if _, err := w.chain(ctx, proc); err != nil {
		w.logger.Error("job execution abandoned", "job_process_uuid", proc.UUID, "job_class", proc.JobClass, "error", err)
	}
}

// runProcess is the innermost execution step, wrapped by the
// configured middleware chain. It stamps started_at, rebuilds the job
// from the registry and captured parameters, runs it, and converts the
// process to a result.
//
// An error return means the engine itself failed (store unavailable,
// unknown class, blocked defer) and no result was recorded; job-level
// failures are recorded as errored results and are not errors here.
func (w *Worker) runProcess(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
	store := w.client.Store()

	proc, err := store.MarkStarted(ctx, proc.UUID)
	if err != nil {
		return nil, fmt.Errorf("mark started: %w", err)
	}

	logger := middleware.LoggerFrom(ctx)
	logger.Info("job started", "retry_attempt", proc.RetryAttempt)
	w.client.Emit(&core.ProcessStarted{Process: proc, Timestamp: time.Now()})

	runErr := w.runJob(ctx, proc)

	var deferSig *core.DeferError
	switch {
	case runErr == nil:
		result, err := store.ConvertToResult(ctx, proc, core.StatusSuccessful, "")
		if err != nil {
			return nil, fmt.Errorf("record success: %w", err)
		}
		logger.Info("job succeeded", "duration", durationSince(proc.StartedAt))
		w.client.Emit(&core.ProcessSucceeded{Result: result, Duration: durationSince(proc.StartedAt), Timestamp: time.Now()})
		return result, nil

	case errors.As(runErr, &deferSig):
		// Voluntary postponement, not a failure.
		result, err := store.Defer(ctx, proc, deferSig.Delay, deferSig.IncrementAttempt)
		if err != nil {
			return nil, fmt.Errorf("defer: %w", err)
		}
		logger.Info("job deferred", "delay", deferSig.Delay, "increment_attempt", deferSig.IncrementAttempt)
		w.client.Emit(&core.ProcessDeferred{Result: result, Delay: deferSig.Delay, Timestamp: time.Now()})
		return result, nil

	default:
		result, err := store.ConvertToResult(ctx, proc, core.StatusErrored, formatJobError(runErr))
		if err != nil {
			return nil, fmt.Errorf("record error: %w", err)
		}
		logger.Error("job errored", "error", runErr)
		w.client.Emit(&core.ProcessErrored{Result: result, Error: runErr, Timestamp: time.Now()})
		return result, nil
	}
}

// runJob decodes the captured parameters, instantiates the job and
// runs it. A reference to a deleted entity fails the decode and counts
// as a job execution error. An unknown or not-ready registry is an
// engine failure and propagates as a panic-free error through
// runProcess's caller.
func (w *Worker) runJob(ctx context.Context, proc *core.JobProcess) error {
	args, err := w.client.Codec().Decode(ctx, proc.Parameters)
	if err != nil {
		return err
	}

	j, err := w.client.Registry().Load(ctx, proc.JobClass, args)
	if err != nil {
		return err
	}

	return safeRun(ctx, j)
}

func safeRun(ctx context.Context, j job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return j.Run(ctx)
}

// cancelProcess records a cancelled result for work reaped before it
// ran (shutdown drain).
func (w *Worker) cancelProcess(ctx context.Context, processUUID string) {
	store := w.client.Store()

	proc, err := store.GetProcess(ctx, processUUID)
	if err != nil {
		w.logger.Error("failed to load process for cancellation", "job_process_uuid", processUUID, "error", err)
		return
	}

	result, err := store.ConvertToResult(ctx, proc, core.StatusCancelled, "cancelled before execution by shutdown")
	if err != nil {
		w.logger.Error("failed to record cancellation", "job_process_uuid", processUUID, "error", err)
		return
	}
	w.client.Emit(&core.ProcessCancelled{Result: result, Timestamp: time.Now()})
}

func formatJobError(err error) string {
	return err.Error()
}

func durationSince(t *time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(*t)
}
