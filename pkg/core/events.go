package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// RequestEnqueued is emitted when a request is accepted into the queue.
type RequestEnqueued struct {
	Request   *JobRequest
	Timestamp time.Time
}

func (*RequestEnqueued) eventMarker() {}

// ProcessStarted is emitted when an executor begins running a process.
type ProcessStarted struct {
	Process   *JobProcess
	Timestamp time.Time
}

func (*ProcessStarted) eventMarker() {}

// ProcessSucceeded is emitted when a process completes normally.
type ProcessSucceeded struct {
	Result    *JobResult
	Duration  time.Duration
	Timestamp time.Time
}

func (*ProcessSucceeded) eventMarker() {}

// ProcessErrored is emitted when the job body raises an error.
type ProcessErrored struct {
	Result    *JobResult
	Error     error
	Timestamp time.Time
}

func (*ProcessErrored) eventMarker() {}

// ProcessDeferred is emitted when a job voluntarily postpones itself.
type ProcessDeferred struct {
	Result    *JobResult
	Delay     time.Duration
	Timestamp time.Time
}

func (*ProcessDeferred) eventMarker() {}

// ProcessCancelled is emitted when the shutdown drain reaps a process
// before it ran.
type ProcessCancelled struct {
	Result    *JobResult
	Timestamp time.Time
}

func (*ProcessCancelled) eventMarker() {}

// ProcessLost is emitted once per sweep that reclassified aged-out
// processes, with the number of rows converted to LOST results.
type ProcessLost struct {
	Count     int64
	Queues    []string
	Timestamp time.Time
}

func (*ProcessLost) eventMarker() {}
