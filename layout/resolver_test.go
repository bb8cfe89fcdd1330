// ABOUTME: Tests for deterministic layout resolution: scoring, weighted redistribution clamps, variety penalty.
package layout

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func uniformLib3() Library {
	return Library{Templates: []Template{
		{
			ID:   "stack-3",
			Name: "Three equal rows",
			Rects: []Rect{
				{0, 0, 1, 1.0 / 3},
				{0, 1.0 / 3, 1, 1.0 / 3},
				{0, 2.0 / 3, 1, 1.0 / 3},
			},
		},
	}}
}

func TestWeightedRedistributionRespectsClamps(t *testing.T) {
	r := NewResolver(DefaultConfig())
	panels := []PanelSpec{
		{Weight: 0.1},
		{Weight: 0.1},
		{Weight: 0.8, MustDominate: true},
	}

	res, err := r.Resolve(panels, uniformLib3(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if res.Rects[0].H < 0.12 || res.Rects[1].H < 0.12 {
		t.Errorf("minor panels below minimum extent: %v, %v", res.Rects[0].H, res.Rects[1].H)
	}
	if res.Rects[2].H < 0.70 {
		t.Errorf("dominant panel below the non-dominant cap: %v", res.Rects[2].H)
	}

	sum := res.Rects[0].H + res.Rects[1].H + res.Rects[2].H
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("heights must sum to 1.0, got %v", sum)
	}

	// Redistribution stacks full-width rows top to bottom.
	y := 0.0
	for i, rect := range res.Rects {
		if rect.W != 1 || rect.X != 0 {
			t.Errorf("panel %d: expected full-width row, got %+v", i, rect)
		}
		if math.Abs(rect.Y-y) > 1e-9 {
			t.Errorf("panel %d: expected y=%v, got %v", i, y, rect.Y)
		}
		y += rect.H
	}
}

func TestNonDominantCapApplies(t *testing.T) {
	r := NewResolver(DefaultConfig())
	panels := []PanelSpec{
		{Weight: 0.05},
		{Weight: 0.9}, // heavy but not marked dominant
		{Weight: 0.05},
	}

	res, err := r.Resolve(panels, uniformLib3(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Rects[1].H > 0.70+1e-9 {
		t.Errorf("non-dominant panel exceeds cap: %v", res.Rects[1].H)
	}
}

func TestUniformWeightsKeepTemplateGeometry(t *testing.T) {
	r := NewResolver(DefaultConfig())
	panels := []PanelSpec{{Weight: 0.5}, {Weight: 0.5}, {Weight: 0.5}}

	res, err := r.Resolve(panels, uniformLib3(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(res.Rects, uniformLib3().Templates[0].Rects) {
		t.Errorf("uniform weights must keep template geometry, got %+v", res.Rects)
	}
}

func TestDominantPanelPrefersDominantTemplate(t *testing.T) {
	r := NewResolver(DefaultConfig())
	panels := []PanelSpec{
		{Weight: 0.15},
		{Weight: 0.15},
		{Weight: 0.7, MustDominate: true},
	}

	res, err := r.Resolve(panels, DefaultLibrary(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.TemplateID != "hero-bottom-3" {
		t.Errorf("expected the hero template for a dominant panel, got %q", res.TemplateID)
	}
}

func TestRecentTemplatePenaltyForcesVariety(t *testing.T) {
	// Two geometrically identical templates score identically; the penalty
	// must be the deciding factor.
	lib := Library{Templates: []Template{
		{ID: "a", Rects: []Rect{{0, 0, 1, 0.5}, {0, 0.5, 1, 0.5}}},
		{ID: "b", Rects: []Rect{{0, 0, 1, 0.5}, {0, 0.5, 1, 0.5}}},
	}}
	r := NewResolver(DefaultConfig())
	panels := []PanelSpec{{Weight: 0.5}, {Weight: 0.5}}

	res, err := r.Resolve(panels, lib, []string{"a", "a"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.TemplateID != "b" {
		t.Errorf("expected variety to pick %q, got %q", "b", res.TemplateID)
	}

	// A single recent use is enough to lose an otherwise-equal tie.
	res, err = r.Resolve(panels, lib, []string{"b"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.TemplateID != "a" {
		t.Errorf("expected %q after one recent use of b, got %q", "a", res.TemplateID)
	}

	// Without history, ties break lexicographically for determinism.
	res, err = r.Resolve(panels, lib, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.TemplateID != "a" {
		t.Errorf("expected deterministic tie-break to %q, got %q", "a", res.TemplateID)
	}
}

func TestSinglePanelFallback(t *testing.T) {
	r := NewResolver(DefaultConfig())
	res, err := r.Resolve([]PanelSpec{{Weight: 1}}, Library{}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.TemplateID != "fallback-single" || len(res.Rects) != 1 || res.Rects[0] != (Rect{0, 0, 1, 1}) {
		t.Errorf("expected full-page fallback, got %+v", res)
	}
}

func TestNoTemplateAvailable(t *testing.T) {
	r := NewResolver(DefaultConfig())
	panels := make([]PanelSpec, 5)
	for i := range panels {
		panels[i] = PanelSpec{Weight: 0.2}
	}
	_, err := r.Resolve(panels, DefaultLibrary(), nil)
	if !errors.Is(err, ErrNoTemplateAvailable) {
		t.Errorf("expected ErrNoTemplateAvailable, got %v", err)
	}
}

func TestInvalidWeightRejected(t *testing.T) {
	r := NewResolver(DefaultConfig())
	if _, err := r.Resolve([]PanelSpec{{Weight: 0}}, DefaultLibrary(), nil); err == nil {
		t.Error("expected rejection of zero weight")
	}
	if _, err := r.Resolve([]PanelSpec{{Weight: 1.2}}, DefaultLibrary(), nil); err == nil {
		t.Error("expected rejection of weight above 1")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver(DefaultConfig())
	panels := []PanelSpec{
		{Weight: 0.3},
		{Weight: 0.2},
		{Weight: 0.5, MustDominate: true},
	}

	first, err := r.Resolve(panels, DefaultLibrary(), []string{"stack-3"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(panels, DefaultLibrary(), []string{"stack-3"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical inputs must produce identical geometry:\n%+v\n%+v", first, second)
	}
}

func TestLoadLibraryYAML(t *testing.T) {
	data := []byte(`
templates:
  - id: custom-2
    name: Custom split
    rects:
      - {x: 0, y: 0, w: 1, h: 0.7}
      - {x: 0, y: 0.7, w: 1, h: 0.3}
`)
	lib, err := LoadLibrary(data)
	if err != nil {
		t.Fatalf("load library: %v", err)
	}
	if len(lib.Templates) != 1 || lib.Templates[0].ID != "custom-2" {
		t.Fatalf("unexpected library: %+v", lib)
	}
	if got := lib.Templates[0].Rects[0].H; got != 0.7 {
		t.Errorf("expected h=0.7, got %v", got)
	}

	if _, err := LoadLibrary([]byte("templates:\n  - id: ''\n    rects: [{x: 0, y: 0, w: 1, h: 1}]")); err == nil {
		t.Error("expected rejection of empty template id")
	}
}
