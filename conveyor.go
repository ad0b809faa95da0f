// Package conveyor provides a database-backed background job engine.
//
// Jobs move through three tables as they execute: a request row while
// queued, a process row while claimed by a worker, and an immutable
// result row once finished. A record lives in exactly one table at a
// time, so crash recovery and deduplication reduce to row counting.
//
// Basic usage:
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	store := conveyor.NewGormStore(db)
//	store.Migrate(context.Background())
//
//	registry := conveyor.NewRegistry()
//	registry.Register("mail.welcome", func(ctx context.Context, args conveyor.Arguments) (conveyor.Job, error) {
//	    return &WelcomeMail{To: args.Args[0].(string)}, nil
//	})
//	registry.Seal()
//
//	client := conveyor.New(store, registry)
//	client.RunInWorker(ctx, "mail.welcome", conveyor.Args("user@example.com"))
//
//	w := conveyor.NewWorker(client, conveyor.OnQueues("default"))
//	w.Start(ctx)
package conveyor

import (
	"time"

	"gorm.io/gorm"

	"github.com/conveyorhq/conveyor/pkg/client"
	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/middleware"
	"github.com/conveyorhq/conveyor/pkg/params"
	"github.com/conveyorhq/conveyor/pkg/schedule"
	"github.com/conveyorhq/conveyor/pkg/security"
	"github.com/conveyorhq/conveyor/pkg/storage"
	"github.com/conveyorhq/conveyor/pkg/trace"
	"github.com/conveyorhq/conveyor/pkg/worker"
)

// Type aliases re-exporting the pkg/ surface.
type (
	// JobRequest is a queued unit of work.
	JobRequest = core.JobRequest

	// JobProcess is a claimed, in-flight unit of work.
	JobProcess = core.JobProcess

	// JobResult is an immutable terminal record.
	JobResult = core.JobResult

	// ResultStatus is the terminal disposition of a job.
	ResultStatus = core.ResultStatus

	// Store defines the persistence layer.
	Store = core.Store

	// QueueStat holds per-queue record counts.
	QueueStat = core.QueueStat

	// Event is the interface for all execution events.
	Event = core.Event

	// RequestEnqueued is emitted when a request row is created.
	RequestEnqueued = core.RequestEnqueued

	// ProcessStarted is emitted when job code begins executing.
	ProcessStarted = core.ProcessStarted

	// ProcessSucceeded is emitted on successful completion.
	ProcessSucceeded = core.ProcessSucceeded

	// ProcessErrored is emitted when the job body raises an error.
	ProcessErrored = core.ProcessErrored

	// ProcessDeferred is emitted when a job postpones itself.
	ProcessDeferred = core.ProcessDeferred

	// ProcessCancelled is emitted when shutdown reaps unstarted work.
	ProcessCancelled = core.ProcessCancelled

	// ProcessLost is emitted when a sweep reclassifies crashed work.
	ProcessLost = core.ProcessLost

	// DeferError signals voluntary postponement; it is not a failure.
	DeferError = core.DeferError

	// Job is a unit of work resolved from a registry factory.
	Job = job.Job

	// Factory builds a Job from decoded arguments.
	Factory = job.Factory

	// Registry maps job classes to factories.
	Registry = job.Registry

	// Policy holds per-class execution defaults.
	Policy = job.Policy

	// Option adjusts per-enqueue options.
	Option = job.Option

	// Options holds resolved enqueue parameters.
	Options = job.Options

	// Client enqueues jobs and manages schedules and events.
	Client = client.Client

	// ScheduledJob holds configuration for a recurring job.
	ScheduledJob = client.ScheduledJob

	// Worker claims and executes queued jobs.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.Option

	// Middleware wraps job execution.
	Middleware = middleware.Middleware

	// Handler is the execution function middleware wraps.
	Handler = middleware.Handler

	// Arguments is the positional and named parameter payload.
	Arguments = params.Arguments

	// EntityRef is a gid:// reference to a persisted entity.
	EntityRef = params.EntityRef

	// Resolver rehydrates entity references during decode.
	Resolver = params.Resolver

	// Codec encodes and decodes job parameters.
	Codec = params.Codec

	// Schedule defines when a recurring job should next run.
	Schedule = schedule.Schedule

	// Tracer receives producer and consumer spans.
	Tracer = trace.Tracer

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore
)

// Result status constants.
const (
	StatusSuccessful = core.StatusSuccessful
	StatusErrored    = core.StatusErrored
	StatusCancelled  = core.StatusCancelled
	StatusDeferred   = core.StatusDeferred
	StatusLost       = core.StatusLost
)

// Security limits.
const (
	MaxJobClassLength       = security.MaxJobClassLength
	MaxQueueNameLength      = security.MaxQueueNameLength
	MaxParametersSize       = security.MaxParametersSize
	MaxRetries              = security.MaxRetries
	MaxProcessLimit         = security.MaxProcesses
	MaxErrorMessageLength   = security.MaxErrorMessageLength
	MaxConcurrencyKeyLength = security.MaxConcurrencyKeyLength
)

// Error variables.
var (
	ErrInvalidJobClass       = core.ErrInvalidJobClass
	ErrJobClassTooLong       = core.ErrJobClassTooLong
	ErrInvalidQueueName      = core.ErrInvalidQueueName
	ErrQueueNameTooLong      = core.ErrQueueNameTooLong
	ErrParametersTooLarge    = core.ErrParametersTooLarge
	ErrConcurrencyKeyTooLong = core.ErrConcurrencyKeyTooLong
	ErrDuplicateJob          = core.ErrDuplicateJob
	ErrDeferBlocked          = core.ErrDeferBlocked
	ErrRegistryNotReady      = core.ErrRegistryNotReady
	ErrUnknownJobClass       = core.ErrUnknownJobClass
	ErrProcessNotFound       = core.ErrProcessNotFound
	ErrEntityNotFound        = core.ErrEntityNotFound
	ErrScheduleNeverMatches  = core.ErrScheduleNeverMatches
)

// New creates a client over the given store and registry.
func New(store Store, registry *Registry, opts ...client.Option) *Client {
	return client.New(store, registry, opts...)
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return job.NewRegistry()
}

// NewResolver creates an empty entity resolver.
func NewResolver() *Resolver {
	return params.NewResolver()
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewGormStoreWithPool creates a GORM-backed store and bounds its
// connection pool. See storage.PoolOption for the available limits.
func NewGormStoreWithPool(db *gorm.DB, opts ...storage.PoolOption) (*GormStore, error) {
	return storage.NewGormStoreWithPool(db, opts...)
}

// NewWorker creates a worker over the given client.
func NewWorker(c *Client, opts ...WorkerOption) *Worker {
	return worker.NewWorker(c, opts...)
}

// WithResolver sets the entity resolver used during parameter decode.
func WithResolver(r *Resolver) client.Option {
	return client.WithResolver(r)
}

// WithTracer sets the span sink.
func WithTracer(t Tracer) client.Option {
	return client.WithTracer(t)
}

// Args builds a positional Arguments payload.
func Args(args ...any) Arguments {
	return Arguments{Args: args}
}

// Defer signals the engine to re-enqueue the current job after d
// without consuming a retry attempt.
func Defer(d time.Duration) error {
	return core.Defer(d)
}

// DeferRetry is Defer but consumes a retry attempt.
func DeferRetry(d time.Duration) error {
	return core.DeferRetry(d)
}

// Schedule constructors.

// Cron parses a five-field cron expression, panicking on a malformed
// one. Use schedule.ParseCron to get the error instead.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// Every runs a job at a fixed interval.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily runs a job once a day at the given UTC time.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly runs a job once a week at the given UTC time.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Per-enqueue option functions.

// OnQueue routes the job to a named queue.
func OnQueue(name string) Option {
	return job.OnQueue(name)
}

// Priority sets the job priority (higher runs first).
func Priority(p int) Option {
	return job.Priority(p)
}

// Retries sets the automatic retry budget.
func Retries(n int) Option {
	return job.Retries(n)
}

// ConcurrencyKey dedups enqueues under the given key.
func ConcurrencyKey(key string) Option {
	return job.ConcurrencyKey(key)
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return job.Delay(d)
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return job.At(t)
}

// Worker option functions.

// OnQueues sets the queues this worker serves.
func OnQueues(queues ...string) WorkerOption {
	return worker.OnQueues(queues...)
}

// MaxProcesses sets the executor pool size.
func MaxProcesses(n int) WorkerOption {
	return worker.MaxProcesses(n)
}

// MaxJobsPerProcess recycles an executor slot after n jobs.
func MaxJobsPerProcess(n int) WorkerOption {
	return worker.MaxJobsPerProcess(n)
}

// MaxPendingPerProcess sets the per-slot backpressure factor.
func MaxPendingPerProcess(n int) WorkerOption {
	return worker.MaxPendingPerProcess(n)
}

// Use appends execution middleware.
func Use(mws ...Middleware) WorkerOption {
	return worker.Use(mws...)
}

// ValidateJobClass validates a job class name.
func ValidateJobClass(name string) error {
	return security.ValidateJobClass(name)
}

// ValidateQueueName validates a queue name.
func ValidateQueueName(name string) error {
	return security.ValidateQueueName(name)
}

// SanitizeErrorMessage truncates and sanitizes error text for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}
