// ABOUTME: Story-level guardrails: layout variety across scenes and the mandatory single-panel beat.
// ABOUTME: TemplateHistory feeds the resolver's recency penalty so no template runs three scenes straight.
package pipeline

import (
	"sync"

	"github.com/2389-research/storyboard/store"
)

// TemplateHistory records template choices across a story run. The layout
// node reads the last two entries, which the resolver penalizes hard enough
// that a template never wins a third consecutive scene when an alternative
// with the same panel count exists.
type TemplateHistory struct {
	mu  sync.Mutex
	ids []string
}

// NewTemplateHistory creates an empty history.
func NewTemplateHistory() *TemplateHistory {
	return &TemplateHistory{}
}

// Record appends a chosen template id.
func (h *TemplateHistory) Record(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, id)
}

// Recent returns the last n recorded ids, newest last.
func (h *TemplateHistory) Recent(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ids) <= n {
		out := make([]string, len(h.ids))
		copy(out, h.ids)
		return out
	}
	out := make([]string, n)
	copy(out, h.ids[len(h.ids)-n:])
	return out
}

// All returns every recorded id in order.
func (h *TemplateHistory) All() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.ids))
	copy(out, h.ids)
	return out
}

// designateSinglePanelScene picks which scene carries the mandatory
// single-panel beat: the one with the shortest source text, ties broken by
// scene order. Single-scene stories are left alone; a one-scene story forced
// to a single panel would flatten the whole output.
func designateSinglePanelScene(scenes []*store.Scene) int {
	if len(scenes) < 2 {
		return -1
	}
	best := 0
	for i, sc := range scenes[1:] {
		if len(sc.SourceText) < len(scenes[best].SourceText) {
			best = i + 1
		}
	}
	return best
}
