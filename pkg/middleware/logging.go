package middleware

import (
	"context"
	"log/slog"

	"github.com/conveyorhq/conveyor/pkg/core"
)

type loggerKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context's logger, or slog.Default().
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Logging attaches a job-scoped structured logger to the context for
// the duration of the inner call only.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
			scoped := logger.With(
				"job_process_uuid", proc.UUID,
				"job_request_uuid", proc.JobRequestUUID,
				"job_class", proc.JobClass,
				"queue", proc.Queue,
			)
			return next(WithLogger(ctx, scoped), proc)
		}
	}
}
