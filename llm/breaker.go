// ABOUTME: Per-(operation, model) circuit breaker with closed/open/half-open states.
// ABOUTME: Breakers live in an injected registry, never package-level state, so tests get fresh instances.
package llm

import (
	"sync"
	"time"
)

// BreakerState is the current disposition of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes circuit breaker transitions.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before closed -> open
	Cooldown         time.Duration // time in open before a half-open probe is allowed
	SuccessThreshold int           // consecutive probe successes before half_open -> closed
}

// DefaultBreakerConfig returns the production tuning: open after 5 consecutive
// failures, probe after a 30s cooldown, close after 2 probe successes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker is a thread-safe circuit breaker for one (operation, model) pair.
type Breaker struct {
	mu                  sync.Mutex
	cfg                 BreakerConfig
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
	successStreak       int
	now                 func() time.Time
}

// NewBreaker creates a closed breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the cooldown elapses, then admits a single half-open probe.
// In half-open it admits at most one in-flight probe at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.successStreak = 0
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess notes a successful call. In half-open it advances the probe
// streak and closes the breaker once the success threshold is reached.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures = 0
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.successStreak++
		if b.successStreak >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.consecutiveFailures = 0
			b.successStreak = 0
		}
	}
}

// RecordFailure notes a failed call. The failure-threshold'th consecutive
// failure opens the breaker; any half-open failure reopens it and restarts
// the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probeInFlight = false
		b.successStreak = 0
	case BreakerOpen:
		b.consecutiveFailures++
	}
}

// BreakerSnapshot is a point-in-time copy of breaker state for diagnostics.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
}

// Snapshot returns the current state for status endpoints and logs.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// setClock overrides the breaker's time source for tests.
func (b *Breaker) setClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// BreakerRegistry holds one breaker per (operation, model) pair. Fallback
// models get their own breakers: a fallback success never closes the
// primary's circuit.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
	clock    func() time.Time
}

// NewBreakerRegistry creates an empty registry using the given config for
// every breaker it mints.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
		clock:    time.Now,
	}
}

// Get returns the breaker for (op, model), creating it on first use.
func (r *BreakerRegistry) Get(op Operation, model string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(op) + "/" + model
	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(r.cfg)
		b.now = r.clock
		r.breakers[key] = b
	}
	return b
}

// Snapshots returns the state of every known breaker keyed by "op/model".
func (r *BreakerRegistry) Snapshots() map[string]BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerSnapshot, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = b.Snapshot()
	}
	return out
}

// SetClock overrides the time source for all current and future breakers.
// Intended for tests that need to fast-forward the cooldown.
func (r *BreakerRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = now
	for _, b := range r.breakers {
		b.setClock(now)
	}
}
