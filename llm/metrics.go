// ABOUTME: Call metrics for generative requests: timing, failure classification, serving model.
// ABOUTME: Recorder is an injected interface; the in-memory implementation backs status endpoints and tests.
package llm

import (
	"sync"
	"time"
)

// CallMetric describes one real attempt against the generative service.
// Kind is empty for successful calls.
type CallMetric struct {
	Operation Operation     `json:"operation"`
	Model     string        `json:"model"`
	Duration  time.Duration `json:"duration"`
	Kind      Kind          `json:"kind,omitempty"`
}

// Recorder receives one CallMetric per real attempt (success or failure).
type Recorder interface {
	Record(m CallMetric)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) Record(CallMetric) {}

// MemoryRecorder accumulates metrics in memory with per-(op, model) counters.
type MemoryRecorder struct {
	mu      sync.Mutex
	metrics []CallMetric
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(m CallMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
}

// Metrics returns a copy of all recorded metrics in arrival order.
func (r *MemoryRecorder) Metrics() []CallMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallMetric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// CountByKind returns the number of recorded attempts per classification,
// with successful attempts under the empty Kind.
func (r *MemoryRecorder) CountByKind() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Kind]int)
	for _, m := range r.metrics {
		out[m.Kind]++
	}
	return out
}
