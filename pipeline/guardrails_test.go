// ABOUTME: Tests for story-level guardrails: template history recency and single-panel designation.
package pipeline

import (
	"reflect"
	"sync"
	"testing"

	"github.com/2389-research/storyboard/store"
)

func TestTemplateHistoryRecent(t *testing.T) {
	h := NewTemplateHistory()
	if got := h.Recent(2); len(got) != 0 {
		t.Errorf("empty history must return nothing, got %v", got)
	}

	h.Record("a")
	h.Record("b")
	h.Record("c")

	if got := h.Recent(2); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("expected last two entries, got %v", got)
	}
	if got := h.Recent(5); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("expected full history, got %v", got)
	}
	if got := h.All(); len(got) != 3 {
		t.Errorf("expected 3 entries, got %v", got)
	}
}

func TestTemplateHistoryConcurrentRecord(t *testing.T) {
	h := NewTemplateHistory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Record("x")
			h.Recent(2)
		}()
	}
	wg.Wait()
	if got := len(h.All()); got != 16 {
		t.Errorf("expected 16 recorded entries, got %d", got)
	}
}

func TestDesignateSinglePanelScene(t *testing.T) {
	scenes := []*store.Scene{
		{ID: "0", SourceText: "A fairly long opening scene with plenty of text."},
		{ID: "1", SourceText: "Short."},
		{ID: "2", SourceText: "A middle-length scene."},
	}
	if got := designateSinglePanelScene(scenes); got != 1 {
		t.Errorf("expected shortest scene (1), got %d", got)
	}

	// Ties break toward the earlier scene.
	tied := []*store.Scene{
		{ID: "0", SourceText: "same"},
		{ID: "1", SourceText: "same"},
	}
	if got := designateSinglePanelScene(tied); got != 0 {
		t.Errorf("expected earlier scene on tie, got %d", got)
	}

	if got := designateSinglePanelScene(scenes[:1]); got != -1 {
		t.Errorf("single-scene stories are left alone, got %d", got)
	}
}
