// Package client provides the enqueue-side orchestrator for the conveyor package.
package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/params"
	"github.com/conveyorhq/conveyor/pkg/security"
	"github.com/conveyorhq/conveyor/pkg/trace"
)

// Client ties the registry, parameter codec and queue store together
// on the producer side. It is safe for concurrent use.
type Client struct {
	store    core.Store
	registry *job.Registry
	codec    *params.Codec
	tracer   trace.Tracer

	mu        sync.RWMutex
	scheduled map[string]*ScheduledJob
	eventSubs []chan core.Event
}

// Option configures a Client.
type Option interface {
	applyClient(*Client)
}

type clientOptionFunc func(*Client)

func (f clientOptionFunc) applyClient(c *Client) { f(c) }

// WithResolver sets the entity resolver used to rehydrate gid://
// references when jobs execute.
func WithResolver(r *params.Resolver) Option {
	return clientOptionFunc(func(c *Client) {
		c.codec = &params.Codec{Resolver: r}
	})
}

// WithTracer sets the span sink. Default: a no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return clientOptionFunc(func(c *Client) {
		c.tracer = t
	})
}

// New creates a Client over a store and a registry.
func New(store core.Store, registry *job.Registry, opts ...Option) *Client {
	c := &Client{
		store:     store,
		registry:  registry,
		codec:     &params.Codec{},
		tracer:    trace.Nop(),
		scheduled: make(map[string]*ScheduledJob),
	}
	for _, opt := range opts {
		opt.applyClient(c)
	}
	return c
}

// Store returns the underlying queue store.
func (c *Client) Store() core.Store { return c.store }

// Registry returns the job class registry.
func (c *Client) Registry() *job.Registry { return c.registry }

// Codec returns the parameter codec.
func (c *Client) Codec() *params.Codec { return c.codec }

// Tracer returns the span sink.
func (c *Client) Tracer() trace.Tracer { return c.tracer }

// ResolveOptions builds the job for a class to resolve its policy
// defaults, then applies the given enqueue options on top.
func (c *Client) ResolveOptions(ctx context.Context, class string, args params.Arguments, opts ...job.Option) (*job.Options, error) {
	j, err := c.registry.Load(ctx, class, args)
	if err != nil {
		return nil, err
	}
	o := job.OptionsFrom(job.PolicyOf(j))
	for _, opt := range opts {
		opt.Apply(o)
	}
	return o, nil
}

// RunInWorker enqueues one execution of the given job class. The job
// is instantiated once on the producer side so its policy hooks can
// shape the request; the captured arguments, not the instance, are
// what the executor replays.
//
// Returns core.ErrDuplicateJob (possibly wrapped) when the enqueue is
// blocked by the job's concurrency policy.
func (c *Client) RunInWorker(ctx context.Context, class string, args params.Arguments, opts ...job.Option) (*core.JobRequest, error) {
	canonical, factory, err := c.registry.Resolve(class)
	if err != nil {
		return nil, err
	}
	j, err := factory(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("conveyor: build job %q: %w", canonical, err)
	}

	o := job.OptionsFrom(job.PolicyOf(j))
	for _, opt := range opts {
		opt.Apply(o)
	}
	if err := security.ValidateQueueName(o.Queue); err != nil {
		return nil, err
	}
	if err := security.ValidateConcurrencyKey(o.ConcurrencyKey); err != nil {
		return nil, err
	}

	data, err := c.codec.Encode(args)
	if err != nil {
		return nil, err
	}
	if len(data) > security.MaxParametersSize {
		return nil, core.ErrParametersTooLarge
	}

	req := &core.JobRequest{
		UUID:           uuid.New().String(),
		JobClass:       canonical,
		Parameters:     data,
		Source:         callSite(),
		Queue:          o.Queue,
		Priority:       o.Priority,
		Retries:        o.Retries,
		ConcurrencyKey: o.ConcurrencyKey,
		TraceID:        o.TraceID,
		SpanID:         o.SpanID,
	}
	if o.RunAt != nil {
		req.StartAt = o.RunAt
	} else if o.Delay > 0 {
		startAt := time.Now().Add(o.Delay)
		req.StartAt = &startAt
	}

	_, end := c.tracer.StartSpan(ctx, "conveyor.enqueue", map[string]any{
		"queue":      req.Queue,
		"job_class":  req.JobClass,
		"message_id": req.UUID,
	})
	err = c.store.Enqueue(ctx, req, func(pending int64) bool {
		return job.ShouldEnqueue(j, pending)
	})
	end(err)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateJob) {
			return nil, err
		}
		return nil, fmt.Errorf("conveyor: failed to enqueue: %w", err)
	}

	c.Emit(&core.RequestEnqueued{Request: req, Timestamp: time.Now()})
	return req, nil
}

// RetryResult re-enqueues one retryable result with its attempt
// counter incremented and visibility delayed by the job's retry delay.
// The result is linked to the new request so it is never retried
// twice. Returns core.ErrDuplicateJob when the concurrency policy
// still blocks the class + key pair.
func (c *Client) RetryResult(ctx context.Context, res *core.JobResult) (*core.JobRequest, error) {
	// Decode without resolving entity references: the fresh lookup
	// belongs to execution time, not to scheduling the retry.
	bare := &params.Codec{}
	args, err := bare.Decode(ctx, res.Parameters)
	if err != nil {
		return nil, err
	}
	j, err := c.registry.Load(ctx, res.JobClass, args)
	if err != nil {
		return nil, err
	}

	attempt := res.RetryAttempt + 1
	startAt := time.Now().Add(job.RetryDelay(j, attempt))

	req := &core.JobRequest{
		UUID:           uuid.New().String(),
		JobClass:       res.JobClass,
		Parameters:     res.Parameters,
		Source:         res.Source,
		Queue:          res.Queue,
		Priority:       res.Priority,
		StartAt:        &startAt,
		Retries:        res.Retries,
		RetryAttempt:   attempt,
		ConcurrencyKey: res.ConcurrencyKey,
		TraceID:        res.TraceID,
		SpanID:         res.SpanID,
	}

	err = c.store.Enqueue(ctx, req, func(pending int64) bool {
		return job.ShouldEnqueue(j, pending)
	})
	if err != nil {
		return nil, err
	}
	if err := c.store.LinkRetry(ctx, res.UUID, req.UUID); err != nil {
		return nil, err
	}

	c.Emit(&core.RequestEnqueued{Request: req, Timestamp: time.Now()})
	return req, nil
}

// pkgDir is the build-time path of this module's pkg/ tree, used to
// recognize and skip our own frames when capturing the enqueue call
// site.
var pkgDir string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if ok {
		// .../pkg/client/client.go -> .../pkg
		pkgDir = filepath.Dir(filepath.Dir(file))
	}
}

// callSite walks the stack for the first frame outside this module's
// own packages. Best effort; empty when undeterminable.
func callSite() string {
	for skip := 2; skip < 10; skip++ {
		_, file, line, ok := runtime.Caller(skip)
		if !ok {
			return ""
		}
		if pkgDir != "" && strings.HasPrefix(file, pkgDir) && !strings.HasSuffix(file, "_test.go") {
			continue
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
	return ""
}
