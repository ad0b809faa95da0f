package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/middleware"
)

func TestChain_Order(t *testing.T) {
	var calls []string

	tag := func(name string) middleware.Middleware {
		return func(next middleware.Handler) middleware.Handler {
			return func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
				calls = append(calls, name+":before")
				result, err := next(ctx, proc)
				calls = append(calls, name+":after")
				return result, err
			}
		}
	}

	h := middleware.Chain(func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
		calls = append(calls, "handler")
		return &core.JobResult{Status: core.StatusSuccessful}, nil
	}, tag("outer"), tag("inner"))

	result, err := h(context.Background(), &core.JobProcess{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusSuccessful, result.Status)
	assert.Equal(t,
		[]string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"},
		calls)
}

func TestChain_Empty(t *testing.T) {
	h := middleware.Chain(func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
		return nil, errors.New("boom")
	})
	_, err := h(context.Background(), &core.JobProcess{})
	assert.ErrorContains(t, err, "boom")
}

func TestChain_ShortCircuit(t *testing.T) {
	invoked := false
	block := func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
			return nil, errors.New("blocked")
		}
	}

	h := middleware.Chain(func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
		invoked = true
		return nil, nil
	}, block)

	_, err := h(context.Background(), &core.JobProcess{})
	assert.Error(t, err)
	assert.False(t, invoked)
}

func TestLogging_AttachesScopedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	proc := &core.JobProcess{
		UUID:           "proc-1",
		JobRequestUUID: "req-1",
		JobClass:       "mail.send",
		Queue:          "mail",
	}

	h := middleware.Chain(func(ctx context.Context, p *core.JobProcess) (*core.JobResult, error) {
		middleware.LoggerFrom(ctx).Info("inside job")
		return &core.JobResult{Status: core.StatusSuccessful}, nil
	}, middleware.Logging(logger))

	_, err := h(context.Background(), proc)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "inside job")
	assert.Contains(t, out, "job_process_uuid=proc-1")
	assert.Contains(t, out, "job_class=mail.send")
	assert.Contains(t, out, "queue=mail")
}

func TestLoggerFrom_Default(t *testing.T) {
	// Outside a chain there is still always a usable logger.
	assert.NotNil(t, middleware.LoggerFrom(context.Background()))
}
