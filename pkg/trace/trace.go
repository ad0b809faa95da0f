// Package trace defines the optional span sink the engine reports to.
//
// The engine emits a producer span when a request is enqueued and a
// consumer span around each execution attempt, tagged with the queue
// name, job class and the request/process uuid as message id. Deferred
// and retried attempts carry the originating trace/span ids so a sink
// can link them. The default sink discards everything.
package trace

import "context"

// EndFunc closes a span, recording the terminal error if any.
type EndFunc func(err error)

// Tracer receives span start and end events.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, EndFunc)
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, EndFunc) {
	return ctx, func(error) {}
}

// Nop returns a tracer that discards all spans.
func Nop() Tracer {
	return nopTracer{}
}
