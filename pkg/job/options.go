package job

import (
	"time"

	"github.com/conveyorhq/conveyor/pkg/security"
)

// Options holds the resolved enqueue configuration for one request.
// It starts from the job's own policy defaults; enqueue options
// override individual fields.
type Options struct {
	Queue          string
	Priority       int
	Retries        int
	ConcurrencyKey string
	Delay          time.Duration
	RunAt          *time.Time
	TraceID        string
	SpanID         string
}

// OptionsFrom seeds Options with a job's policy defaults.
func OptionsFrom(p Policy) *Options {
	return &Options{
		Queue:          p.Queue,
		Priority:       p.Priority,
		Retries:        security.ClampRetries(p.Retries),
		ConcurrencyKey: p.ConcurrencyKey,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// OnQueue sets the queue name.
func OnQueue(name string) Option {
	return optionFunc(func(o *Options) {
		o.Queue = name
	})
}

// Priority sets the job priority (higher = runs first).
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
	})
}

// Retries sets the retry budget.
// Values are clamped to [0, MaxRetries] (100).
func Retries(n int) Option {
	return optionFunc(func(o *Options) {
		o.Retries = security.ClampRetries(n)
	})
}

// ConcurrencyKey sets the dedup key; empty disables deduplication.
func ConcurrencyKey(key string) Option {
	return optionFunc(func(o *Options) {
		o.ConcurrencyKey = key
	})
}

// Delay defers the job's visibility by a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At defers the job's visibility until a specific time.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Trace carries trace correlation ids from the enqueuing call.
func Trace(traceID, spanID string) Option {
	return optionFunc(func(o *Options) {
		o.TraceID = traceID
		o.SpanID = spanID
	})
}
