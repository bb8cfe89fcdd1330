// ABOUTME: Deterministic template selection and weighted geometry redistribution.
// ABOUTME: Pure decision-table scoring; identical inputs always produce identical geometry.
package layout

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNoTemplateAvailable is returned when the library offers no template for
// the requested panel count (and the single-panel fallback does not apply).
var ErrNoTemplateAvailable = errors.New("no layout template available for panel count")

// PanelSpec is one panel's narrative importance on input to Resolve.
// Weight is in (0, 1]; MustDominate marks the panel as the visual anchor.
type PanelSpec struct {
	Weight       float64 `json:"weight"`
	MustDominate bool    `json:"must_dominate"`
}

// Resolution is the chosen template and the concrete panel geometry, in the
// same order as the input panels.
type Resolution struct {
	TemplateID string `json:"template_id"`
	Rects      []Rect `json:"rects"`
}

// Config tunes the geometric clamps applied during weight redistribution.
type Config struct {
	MinExtent      float64 // no panel below this fraction of the page
	MaxNonDominant float64 // cap for panels without MustDominate
}

// DefaultConfig returns the production clamps: 12% floor, 70% non-dominant cap.
func DefaultConfig() Config {
	return Config{MinExtent: 0.12, MaxNonDominant: 0.70}
}

// dominantAreaRatio is the largest/mean area ratio above which a template is
// considered to offer a dominant slot.
const dominantAreaRatio = 1.4

// recentPenalty is subtracted per appearance in the recently-used list. It
// exceeds any achievable positive score component, so a recently-used
// template always loses ties against a fresh one.
const recentPenalty = 5.0

// Resolver selects templates and computes panel geometry.
type Resolver struct {
	cfg Config
}

// NewResolver creates a resolver with the given clamps.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve picks the best template for the given panels and returns concrete
// geometry. recentTemplateIDs holds the template ids of the most recent
// resolutions (newest last); the last two entries are penalized to force
// visual variety across a sequence of scenes.
func (r *Resolver) Resolve(panels []PanelSpec, lib Library, recentTemplateIDs []string) (*Resolution, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("resolve: no panels given")
	}
	for i, p := range panels {
		if p.Weight <= 0 || p.Weight > 1 {
			return nil, fmt.Errorf("resolve: panel %d weight %v outside (0, 1]", i, p.Weight)
		}
	}

	candidates := lib.ByPanelCount(len(panels))
	if len(candidates) == 0 {
		if len(panels) == 1 {
			return &Resolution{TemplateID: "fallback-single", Rects: []Rect{{0, 0, 1, 1}}}, nil
		}
		return nil, fmt.Errorf("%w: %d", ErrNoTemplateAvailable, len(panels))
	}

	best := pickTemplate(candidates, panels, recentTemplateIDs)

	rects := best.Rects
	if isUniform(best) && !isUniformWeights(panels) {
		rects = r.redistribute(panels)
	}

	out := make([]Rect, len(rects))
	copy(out, rects)
	return &Resolution{TemplateID: best.ID, Rects: out}, nil
}

// pickTemplate scores every candidate and returns the winner. Ties break on
// template ID so resolution stays deterministic.
func pickTemplate(candidates []Template, panels []PanelSpec, recent []string) Template {
	type scored struct {
		tpl   Template
		score float64
	}

	needDominant := false
	for _, p := range panels {
		if p.MustDominate {
			needDominant = true
			break
		}
	}

	scoredList := make([]scored, 0, len(candidates))
	for _, tpl := range candidates {
		s := 0.0

		if needDominant {
			if hasDominantSlot(tpl) {
				s += 3
			} else {
				s -= 2
			}
		}

		// Reward templates whose size spread roughly matches the weight spread.
		s += 2 - 4*math.Abs(weightSpread(panels)-areaSpread(tpl))

		// Variety: the last two resolutions' templates are penalized.
		for _, id := range lastN(recent, 2) {
			if id == tpl.ID {
				s -= recentPenalty
			}
		}

		scoredList = append(scoredList, scored{tpl: tpl, score: s})
	}

	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].tpl.ID < scoredList[j].tpl.ID
	})
	return scoredList[0].tpl
}

// redistribute lays panels out as full-width rows stacked top to bottom with
// heights proportional to weight, clamped to the configured floor and cap,
// then re-normalized so the rows still fill the page.
func (r *Resolver) redistribute(panels []PanelSpec) []Rect {
	n := len(panels)
	heights := make([]float64, n)

	total := 0.0
	for _, p := range panels {
		total += p.Weight
	}
	for i, p := range panels {
		heights[i] = p.Weight / total
	}

	// Clamp and re-normalize until stable. Each pass pins violating panels
	// at their bound and rescales the rest; a handful of passes always
	// converges for the clamp ranges in use.
	for pass := 0; pass < 8; pass++ {
		changed := false
		pinned := make([]bool, n)
		pinnedSum := 0.0

		for i, p := range panels {
			min := r.cfg.MinExtent
			max := 1.0
			if !p.MustDominate {
				max = r.cfg.MaxNonDominant
			}
			if heights[i] < min {
				heights[i] = min
				pinned[i] = true
				changed = true
			} else if heights[i] > max {
				heights[i] = max
				pinned[i] = true
				changed = true
			}
			if pinned[i] {
				pinnedSum += heights[i]
			}
		}
		if !changed {
			break
		}

		freeSum := 0.0
		for i := range heights {
			if !pinned[i] {
				freeSum += heights[i]
			}
		}
		remaining := 1.0 - pinnedSum
		if freeSum <= 0 || remaining <= 0 {
			break
		}
		for i := range heights {
			if !pinned[i] {
				heights[i] = heights[i] / freeSum * remaining
			}
		}
	}

	// Distribute any residue among panels with headroom so the rows sum to
	// 1.0 without pushing a clamped panel back past its bound.
	for pass := 0; pass < 8; pass++ {
		sum := 0.0
		for _, h := range heights {
			sum += h
		}
		diff := 1.0 - sum
		if math.Abs(diff) < 1e-9 {
			break
		}

		headroom := make([]float64, n)
		totalHeadroom := 0.0
		for i, p := range panels {
			if diff > 0 {
				max := 1.0
				if !p.MustDominate {
					max = r.cfg.MaxNonDominant
				}
				headroom[i] = max - heights[i]
			} else {
				headroom[i] = heights[i] - r.cfg.MinExtent
			}
			if headroom[i] < 0 {
				headroom[i] = 0
			}
			totalHeadroom += headroom[i]
		}
		if totalHeadroom <= 0 {
			// Degenerate clamps leave no legal adjustment; scale outright.
			for i := range heights {
				heights[i] /= sum
			}
			break
		}
		for i := range heights {
			heights[i] += diff * headroom[i] / totalHeadroom
		}
	}

	rects := make([]Rect, n)
	y := 0.0
	for i, h := range heights {
		rects[i] = Rect{X: 0, Y: y, W: 1, H: h}
		y += h
	}
	return rects
}

// isUniform reports whether every rect in the template has the same area.
func isUniform(t Template) bool {
	if len(t.Rects) < 2 {
		return true
	}
	first := t.Rects[0].Area()
	for _, r := range t.Rects[1:] {
		if math.Abs(r.Area()-first) > 1e-6 {
			return false
		}
	}
	return true
}

// isUniformWeights reports whether all panel weights are equal.
func isUniformWeights(panels []PanelSpec) bool {
	for _, p := range panels[1:] {
		if math.Abs(p.Weight-panels[0].Weight) > 1e-6 {
			return false
		}
	}
	return true
}

// weightSpread is the max-min difference of normalized weights.
func weightSpread(panels []PanelSpec) float64 {
	total := 0.0
	for _, p := range panels {
		total += p.Weight
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, p := range panels {
		w := p.Weight / total
		min = math.Min(min, w)
		max = math.Max(max, w)
	}
	return max - min
}

// areaSpread is the max-min difference of normalized rect areas.
func areaSpread(t Template) float64 {
	total := 0.0
	for _, r := range t.Rects {
		total += r.Area()
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, r := range t.Rects {
		a := r.Area() / total
		min = math.Min(min, a)
		max = math.Max(max, a)
	}
	return max - min
}

// hasDominantSlot reports whether the template's largest rect is clearly
// bigger than the average rect.
func hasDominantSlot(t Template) bool {
	total, max := 0.0, 0.0
	for _, r := range t.Rects {
		a := r.Area()
		total += a
		max = math.Max(max, a)
	}
	mean := total / float64(len(t.Rects))
	return max >= dominantAreaRatio*mean
}

// lastN returns the final n elements of s (fewer if s is shorter).
func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
