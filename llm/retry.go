// ABOUTME: Backoff schedules for retryable generative call failures.
// ABOUTME: Rate limits get a long fixed schedule; other transient kinds get short exponential delays.
package llm

import (
	"context"
	"time"
)

// Schedule is an ordered list of delays. Position N is the sleep before
// retry N+1; a request is abandoned once its schedule is exhausted.
type Schedule []time.Duration

// StandardSchedule is used for TimedOut, ModelUnavailable, and Unknown
// failures: short exponential delays, 3 attempts total.
func StandardSchedule() Schedule {
	return Schedule{800 * time.Millisecond, 1600 * time.Millisecond}
}

// RateLimitSchedule is used for RateLimited failures. The provider told us
// to slow down, so the delays are long and the attempt budget is extended.
func RateLimitSchedule() Schedule {
	return Schedule{10 * time.Second, 30 * time.Second, 180 * time.Second, 600 * time.Second}
}

// RetryPolicy holds the two schedules used by the client. Retry counters
// are tracked per logical request, one counter per schedule, so a request
// that alternates between rate limits and timeouts exhausts each budget
// independently.
type RetryPolicy struct {
	Standard  Schedule
	RateLimit Schedule
}

// DefaultRetryPolicy returns the production schedules.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Standard:  StandardSchedule(),
		RateLimit: RateLimitSchedule(),
	}
}

// retryCounters tracks how many retries each schedule has consumed for one
// logical request.
type retryCounters struct {
	standard  int
	rateLimit int
}

// next returns the delay before the next retry for the given failure kind,
// or false when the applicable schedule is exhausted.
func (p RetryPolicy) next(kind Kind, c *retryCounters) (time.Duration, bool) {
	if kind == KindRateLimited {
		if c.rateLimit >= len(p.RateLimit) {
			return 0, false
		}
		d := p.RateLimit[c.rateLimit]
		c.rateLimit++
		return d, true
	}
	if c.standard >= len(p.Standard) {
		return 0, false
	}
	d := p.Standard[c.standard]
	c.standard++
	return d, true
}

// sleepWithContext sleeps for d, returning early if the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
