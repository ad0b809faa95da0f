package client

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/params"
)

// RunNow runs one execution of the given job class synchronously in
// the calling process, bypassing the worker pool. The job still moves
// through the full request, process and result pipeline so dedup,
// crash recovery and the result ledger behave exactly as they do for
// worker-executed jobs.
//
// A defer signal from the job body is honored: the re-enqueued request
// is left for a worker and the DEFERRED result is returned.
func (c *Client) RunNow(ctx context.Context, class string, args params.Arguments, opts ...job.Option) (*core.JobResult, error) {
	req, err := c.RunInWorker(ctx, class, args, opts...)
	if err != nil {
		return nil, err
	}

	proc, err := c.store.ConvertToProcess(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("conveyor: failed to claim for direct run: %w", err)
	}
	if _, err := c.store.MarkStarted(ctx, proc.UUID); err != nil {
		return nil, err
	}
	c.Emit(&core.ProcessStarted{Process: proc, Timestamp: time.Now()})

	started := time.Now()
	runErr := c.runDirect(ctx, proc)

	var deferSig *core.DeferError
	switch {
	case runErr == nil:
		result, err := c.store.ConvertToResult(ctx, proc, core.StatusSuccessful, "")
		if err != nil {
			return nil, err
		}
		c.Emit(&core.ProcessSucceeded{Result: result, Duration: time.Since(started), Timestamp: time.Now()})
		return result, nil

	case errors.As(runErr, &deferSig):
		result, err := c.store.Defer(ctx, proc, deferSig.Delay, deferSig.IncrementAttempt)
		if err != nil {
			return nil, err
		}
		c.Emit(&core.ProcessDeferred{Result: result, Delay: deferSig.Delay, Timestamp: time.Now()})
		return result, nil

	default:
		result, err := c.store.ConvertToResult(ctx, proc, core.StatusErrored, runErr.Error())
		if err != nil {
			return nil, err
		}
		c.Emit(&core.ProcessErrored{Result: result, Error: runErr, Timestamp: time.Now()})
		return result, nil
	}
}

func (c *Client) runDirect(ctx context.Context, proc *core.JobProcess) (err error) {
	args, err := c.codec.Decode(ctx, proc.Parameters)
	if err != nil {
		return err
	}
	j, err := c.registry.Load(ctx, proc.JobClass, args)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return j.Run(ctx)
}
