// Package worker provides the worker pool scheduler for the conveyor package.
package worker

import (
	"time"

	"github.com/conveyorhq/conveyor/pkg/middleware"
	"github.com/conveyorhq/conveyor/pkg/security"
)

// Config holds worker configuration.
type Config struct {
	// Queues this worker claims from.
	Queues []string

	// MaxProcesses bounds the executor pool.
	MaxProcesses int

	// MaxJobsPerProcess recycles an executor slot after this many
	// jobs; 0 disables recycling.
	MaxJobsPerProcess int

	// MaxPendingPerProcess bounds dispatched-but-unfinished work at
	// MaxProcesses * MaxPendingPerProcess. Work beyond that stays in
	// the durable store, where it survives a restart.
	MaxPendingPerProcess int

	// PollInterval is the idle sleep when no request is ready.
	PollInterval time.Duration

	// BackpressureInterval is the shorter sleep when the pool is full.
	BackpressureInterval time.Duration

	// StatsInterval throttles the stats logging tick.
	StatsInterval time.Duration

	// LostTimeout is the age past which a process with no recorded
	// outcome is presumed crashed.
	LostTimeout time.Duration

	// ResultRetention prunes results older than this during the
	// maintenance sweep; 0 disables pruning.
	ResultRetention time.Duration

	// Middlewares wrap each execution, first entry outermost.
	Middlewares []middleware.Middleware

	// StorageRetry configures backoff for transient store failures.
	StorageRetry *RetryConfig

	WorkerID string
}

// Option configures a Worker.
type Option interface {
	applyWorker(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyWorker(c *Config) { f(c) }

// OnQueues sets the queues this worker claims from.
func OnQueues(queues ...string) Option {
	return optionFunc(func(c *Config) {
		c.Queues = queues
	})
}

// MaxProcesses sets the executor pool size.
// Values are clamped to [1, MaxProcesses] (1000).
func MaxProcesses(n int) Option {
	return optionFunc(func(c *Config) {
		c.MaxProcesses = security.ClampProcesses(n)
	})
}

// MaxJobsPerProcess recycles an executor slot after n jobs.
func MaxJobsPerProcess(n int) Option {
	return optionFunc(func(c *Config) {
		c.MaxJobsPerProcess = n
	})
}

// MaxPendingPerProcess sets the per-slot dispatch backlog bound.
func MaxPendingPerProcess(n int) Option {
	return optionFunc(func(c *Config) {
		if n < 1 {
			n = 1
		}
		c.MaxPendingPerProcess = n
	})
}

// StatsEvery sets the stats logging interval.
func StatsEvery(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.StatsInterval = d
	})
}

// LostTimeout sets the age past which claimed work is presumed crashed.
func LostTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.LostTimeout = d
	})
}

// ResultRetention enables pruning of results older than d.
func ResultRetention(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.ResultRetention = d
	})
}

// Use appends execution middlewares, first configured outermost.
func Use(mws ...middleware.Middleware) Option {
	return optionFunc(func(c *Config) {
		c.Middlewares = append(c.Middlewares, mws...)
	})
}
