package dberr

import (
	"math/rand"
	"time"
)

// RetryController implements exponential backoff with jitter, used by
// the index layer's persist-retry loop (spec: 3 immediate retries on
// conflict, then backoff-rescheduled; transient-network errors always
// go through backoff and never count against the immediate-retry cap).
type RetryController struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewRetryController creates a retry controller with the defaults
// observed in the teacher repository: 10ms initial delay, 1s cap.
func NewRetryController() *RetryController {
	return NewRetryControllerWithBounds(10*time.Millisecond, 1*time.Second)
}

// NewRetryControllerWithBounds creates a retry controller using the
// given initial delay and cap, falling back to NewRetryController's
// defaults for any zero-valued bound (so a caller supplying a partially
// populated IndexConfig still gets sane backoff behavior).
func NewRetryControllerWithBounds(initialDelay, maxDelay time.Duration) *RetryController {
	if initialDelay <= 0 {
		initialDelay = 10 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 1 * time.Second
	}
	return &RetryController{initialDelay: initialDelay, maxDelay: maxDelay}
}

// Backoff returns the delay to wait before the given retry attempt
// (0-indexed), exponential with +/-25% jitter.
func (rc *RetryController) Backoff(attempt int) time.Duration {
	delay := rc.initialDelay * time.Duration(uint64(1)<<uint(minInt(attempt, 30)))
	if delay > rc.maxDelay || delay <= 0 {
		delay = rc.maxDelay
	}

	jitter := time.Duration(float64(delay) * 0.25 * (rand.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = rc.initialDelay
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
