// Package middleware provides the ordered wrapper hooks around
// single-job execution.
package middleware

import (
	"context"

	"github.com/conveyorhq/conveyor/pkg/core"
)

// Handler executes one claimed process and returns its result.
type Handler func(ctx context.Context, proc *core.JobProcess) (*core.JobResult, error)

// Middleware wraps a Handler with setup/teardown around the call.
type Middleware func(next Handler) Handler

// Chain composes middlewares around a handler. The list is folded from
// the end inward, so the first middleware is the outermost wrapper.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
