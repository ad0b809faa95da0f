package middleware

import (
	"context"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/trace"
)

// Tracing opens a consumer span around execution, tagged with the
// queue, job class, and the process/request uuids as message ids. The
// stored producer trace/span ids ride along so a sink can link a
// retried attempt to its originating span.
func Tracing(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error) {
			attrs := map[string]any{
				"queue":            proc.Queue,
				"job_class":        proc.JobClass,
				"message_id":       proc.UUID,
				"job_request_uuid": proc.JobRequestUUID,
			}
			if proc.TraceID != "" {
				attrs["link_trace_id"] = proc.TraceID
				attrs["link_span_id"] = proc.SpanID
			}
			ctx, end := tracer.StartSpan(ctx, "conveyor.process", attrs)
			result, err := next(ctx, proc)
			end(err)
			return result, err
		}
	}
}
