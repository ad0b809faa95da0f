package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/conveyorhq/conveyor/pkg/client"
	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/params"
	"github.com/conveyorhq/conveyor/pkg/schedule"
	"github.com/conveyorhq/conveyor/pkg/storage"
	"github.com/conveyorhq/conveyor/pkg/worker"
)

type fnJob struct {
	run func(ctx context.Context) error
}

func (j fnJob) Run(ctx context.Context) error { return j.run(ctx) }

type workerEnv struct {
	store   *storage.GormStore
	client  *client.Client
	runs    atomic.Int64
	blockCh chan struct{}
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	env := &workerEnv{
		store:   storage.NewGormStore(db),
		blockCh: make(chan struct{}),
	}
	require.NoError(t, env.store.Migrate(context.Background()))

	registry := job.NewRegistry()
	registry.Register("work.ok", func(ctx context.Context, args params.Arguments) (job.Job, error) {
		return fnJob{run: func(ctx context.Context) error {
			env.runs.Add(1)
			return nil
		}}, nil
	})
	registry.Register("work.fail", func(ctx context.Context, args params.Arguments) (job.Job, error) {
		return fnJob{run: func(ctx context.Context) error {
			env.runs.Add(1)
			return errors.New("downstream unavailable")
		}}, nil
	})
	registry.Register("work.panic", func(ctx context.Context, args params.Arguments) (job.Job, error) {
		return fnJob{run: func(ctx context.Context) error {
			panic("unexpected nil")
		}}, nil
	})
	registry.Register("work.defer", func(ctx context.Context, args params.Arguments) (job.Job, error) {
		return fnJob{run: func(ctx context.Context) error {
			return core.Defer(time.Hour)
		}}, nil
	})
	registry.Register("work.block", func(ctx context.Context, args params.Arguments) (job.Job, error) {
		return fnJob{run: func(ctx context.Context) error {
			<-env.blockCh
			env.runs.Add(1)
			return nil
		}}, nil
	})
	registry.Seal()

	env.client = client.New(env.store, registry)
	return env
}

// startWorker runs w.Start in the background and returns a wait func
// that blocks until the control loop has fully drained.
func startWorker(t *testing.T, w *worker.Worker) func() {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()
	t.Cleanup(w.Stop)
	return func() {
		w.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func (env *workerEnv) results(t *testing.T, status core.ResultStatus) []core.JobResult {
	t.Helper()
	var out []core.JobResult
	require.NoError(t, env.store.DB().Where("status = ?", status).Find(&out).Error)
	return out
}

func TestWorker_ProcessesJobs(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.client.RunInWorker(ctx, "work.ok", params.Arguments{})
		require.NoError(t, err)
	}

	w := worker.NewWorker(env.client, worker.OnQueues("default"), worker.MaxProcesses(2))
	wait := startWorker(t, w)

	require.Eventually(t, func() bool {
		return len(env.results(t, core.StatusSuccessful)) == 3
	}, 10*time.Second, 20*time.Millisecond)

	wait()
	assert.EqualValues(t, 3, env.runs.Load())
	assert.Equal(t, worker.StateStopped, w.State())

	// Nothing left in flight anywhere.
	var requests, processes int64
	require.NoError(t, env.store.DB().Model(&core.JobRequest{}).Count(&requests).Error)
	require.NoError(t, env.store.DB().Model(&core.JobProcess{}).Count(&processes).Error)
	assert.Zero(t, requests)
	assert.Zero(t, processes)
}

func TestWorker_RecordsJobError(t *testing.T) {
	env := newWorkerEnv(t)

	_, err := env.client.RunInWorker(context.Background(), "work.fail", params.Arguments{}, job.Retries(2))
	require.NoError(t, err)

	w := worker.NewWorker(env.client, worker.OnQueues("default"))
	wait := startWorker(t, w)

	require.Eventually(t, func() bool {
		return len(env.results(t, core.StatusErrored)) == 1
	}, 10*time.Second, 20*time.Millisecond)
	wait()

	res := env.results(t, core.StatusErrored)[0]
	assert.Equal(t, "downstream unavailable", res.Error)
	assert.Equal(t, 2, res.Retries)
	assert.True(t, res.Retryable())
	assert.NotNil(t, res.StartedAt)
}

func TestWorker_PanicBecomesErroredResult(t *testing.T) {
	env := newWorkerEnv(t)

	_, err := env.client.RunInWorker(context.Background(), "work.panic", params.Arguments{})
	require.NoError(t, err)

	w := worker.NewWorker(env.client, worker.OnQueues("default"))
	wait := startWorker(t, w)

	require.Eventually(t, func() bool {
		return len(env.results(t, core.StatusErrored)) == 1
	}, 10*time.Second, 20*time.Millisecond)
	wait()

	res := env.results(t, core.StatusErrored)[0]
	assert.Contains(t, res.Error, "panic: unexpected nil")
}

func TestWorker_DeferReEnqueues(t *testing.T) {
	env := newWorkerEnv(t)

	_, err := env.client.RunInWorker(context.Background(), "work.defer", params.Arguments{})
	require.NoError(t, err)

	w := worker.NewWorker(env.client, worker.OnQueues("default"))
	wait := startWorker(t, w)

	require.Eventually(t, func() bool {
		return len(env.results(t, core.StatusDeferred)) == 1
	}, 10*time.Second, 20*time.Millisecond)
	wait()

	res := env.results(t, core.StatusDeferred)[0]
	require.NotNil(t, res.RetryJobRequestUUID)

	// The follow-up request sits delayed, unclaimed.
	var req core.JobRequest
	require.NoError(t, env.store.DB().First(&req, "uuid = ?", *res.RetryJobRequestUUID).Error)
	require.NotNil(t, req.StartAt)
	assert.True(t, req.StartAt.After(time.Now().Add(30*time.Minute)))
}

func TestWorker_ShutdownCancelsBacklog(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	_, err := env.client.RunInWorker(ctx, "work.block", params.Arguments{})
	require.NoError(t, err)
	_, err = env.client.RunInWorker(ctx, "work.ok", params.Arguments{})
	require.NoError(t, err)

	// One executor; the second claim waits in the dispatch backlog.
	w := worker.NewWorker(env.client,
		worker.OnQueues("default"),
		worker.MaxProcesses(1),
		worker.MaxPendingPerProcess(2),
	)
	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	// Wait until both are claimed: one executing, one backlogged.
	require.Eventually(t, func() bool {
		var processes int64
		require.NoError(t, env.store.DB().Model(&core.JobProcess{}).Count(&processes).Error)
		return processes == 2
	}, 10*time.Second, 20*time.Millisecond)

	w.Stop()
	close(env.blockCh) // let the running job finish

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	// The running job completed; the backlogged one was reaped.
	require.Len(t, env.results(t, core.StatusSuccessful), 1)
	cancelled := env.results(t, core.StatusCancelled)
	require.Len(t, cancelled, 1)
	assert.Contains(t, cancelled[0].Error, "cancelled before execution")
}

func TestWorker_ScheduleTickEnqueuesOnce(t *testing.T) {
	env := newWorkerEnv(t)

	env.client.Schedule("work.ok", schedule.Daily(0, 0), params.Arguments{})

	w := worker.NewWorker(env.client, worker.OnQueues("default"))
	wait := startWorker(t, w)

	require.Eventually(t, func() bool {
		var requests int64
		require.NoError(t, env.store.DB().Model(&core.JobRequest{}).Count(&requests).Error)
		return requests == 1
	}, 10*time.Second, 20*time.Millisecond)
	wait()

	// Exactly one occurrence got enqueued, keyed and delayed.
	var req core.JobRequest
	require.NoError(t, env.store.DB().First(&req).Error)
	assert.Equal(t, "work.ok", req.JobClass)
	assert.Contains(t, req.ConcurrencyKey, "work.ok:scheduled:")
	require.NotNil(t, req.StartAt)
	assert.True(t, req.StartAt.After(time.Now()))
}

func TestWorker_StartRequiresSealedRegistry(t *testing.T) {
	env := newWorkerEnv(t)

	unsealed := job.NewRegistry()
	c := client.New(env.store, unsealed)
	w := worker.NewWorker(c)

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, core.ErrRegistryNotReady)
}

func TestWorker_StartTwiceFails(t *testing.T) {
	env := newWorkerEnv(t)

	w := worker.NewWorker(env.client, worker.OnQueues("default"))
	wait := startWorker(t, w)

	// Give the loop a moment to come up, then a second Start must fail.
	require.Eventually(t, func() bool {
		return w.State() == worker.StateRunning
	}, 5*time.Second, 10*time.Millisecond)
	assert.Error(t, w.Start(context.Background()))

	wait()
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	env := newWorkerEnv(t)

	w := worker.NewWorker(env.client, worker.OnQueues("default"))
	wait := startWorker(t, w)

	w.Stop()
	w.Stop()
	wait()
	assert.Equal(t, worker.StateStopped, w.State())
}

func TestWorker_ContextCancellationStops(t *testing.T) {
	env := newWorkerEnv(t)

	w := worker.NewWorker(env.client, worker.OnQueues("default"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		return w.State() == worker.StateRunning
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
	assert.Equal(t, worker.StateStopped, w.State())
}
