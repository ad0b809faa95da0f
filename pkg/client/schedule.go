package client

import (
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/params"
	"github.com/conveyorhq/conveyor/pkg/schedule"
)

// ScheduledJob holds configuration for a recurring job.
type ScheduledJob struct {
	Class    string
	Schedule schedule.Schedule
	Args     params.Arguments
	Opts     []job.Option
}

// Schedule registers a recurring job. Each worker schedule tick
// computes the next occurrence and enqueues it under a synthetic
// concurrency key derived from that occurrence, so concurrent worker
// instances dedup to a single request per occurrence.
func (c *Client) Schedule(class string, sched schedule.Schedule, args params.Arguments, opts ...job.Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduled[class] = &ScheduledJob{
		Class:    class,
		Schedule: sched,
		Args:     args,
		Opts:     opts,
	}
}

// ScheduledJobs returns a snapshot of the registered recurring jobs.
func (c *Client) ScheduledJobs() map[string]*ScheduledJob {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*ScheduledJob, len(c.scheduled))
	for k, v := range c.scheduled {
		out[k] = v
	}
	return out
}
