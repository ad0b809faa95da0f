package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation and policy errors
var (
	ErrInvalidJobClass        = errors.New("conveyor: invalid job class name (must be alphanumeric, start with letter)")
	ErrJobClassTooLong        = errors.New("conveyor: job class name too long")
	ErrInvalidQueueName       = errors.New("conveyor: invalid queue name")
	ErrQueueNameTooLong       = errors.New("conveyor: queue name too long")
	ErrParametersTooLarge     = errors.New("conveyor: job parameters exceed size limit")
	ErrConcurrencyKeyTooLong  = errors.New("conveyor: concurrency key exceeds maximum length")
	ErrDuplicateJob           = errors.New("conveyor: enqueue blocked by concurrency policy")
	ErrDeferBlocked           = errors.New("conveyor: defer re-enqueue blocked by concurrency policy")
	ErrRegistryNotReady       = errors.New("conveyor: job registry not ready")
	ErrUnknownJobClass        = errors.New("conveyor: unknown job class")
	ErrProcessNotFound        = errors.New("conveyor: job process not found")
	ErrEntityNotFound         = errors.New("conveyor: referenced entity not found")
	ErrUnknownEntityModel     = errors.New("conveyor: no resolver registered for entity model")
	ErrScheduleNeverMatches   = errors.New("conveyor: schedule has no occurrence within 500 days")
)

// DeferError is the control-flow signal a job raises to voluntarily
// postpone itself. It is not treated as a failure: the worker deletes
// the process, re-enqueues a request delayed by Delay, and records a
// deferred result linking the two.
type DeferError struct {
	Delay            time.Duration
	IncrementAttempt bool
}

func (e *DeferError) Error() string {
	return fmt.Sprintf("defer for %v", e.Delay)
}

// Defer signals that the job should run again after d without
// consuming a retry attempt.
func Defer(d time.Duration) error {
	return &DeferError{Delay: d}
}

// DeferRetry signals that the job should run again after d, consuming
// a retry attempt.
func DeferRetry(d time.Duration) error {
	return &DeferError{Delay: d, IncrementAttempt: true}
}
