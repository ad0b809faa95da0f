package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig bounds the backoff used when a store call fails
// transiently. Attempts counts the initial call.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// JitterFraction randomizes each delay by +/- this fraction so a
	// fleet of workers does not hammer a recovering database in step.
	JitterFraction float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// delay returns the jittered backoff before the given retry, counting
// from 1.
func (c RetryConfig) delay(retry int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if d >= c.MaxBackoff {
			d = c.MaxBackoff
			break
		}
	}
	jittered := d + time.Duration(float64(d)*c.JitterFraction*(rand.Float64()*2-1))
	if jittered < 0 {
		return d
	}
	return jittered
}

// retryWithBackoff runs op until it succeeds, the attempts are
// exhausted, or the context ends. Context errors from op are returned
// immediately; retrying cancelled work only hides the cancellation.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
}
