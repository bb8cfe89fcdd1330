// ABOUTME: The concrete pipeline nodes: scene intent, panel plan, layout, panel semantics, panel images.
// ABOUTME: Generative nodes parse model output through the repair tiers; the plan node has a heuristic fallback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/2389-research/storyboard/layout"
	"github.com/2389-research/storyboard/llm"
	"github.com/2389-research/storyboard/repair"
)

// defaultMaxPanels bounds how many panels a single scene may plan.
const defaultMaxPanels = 4

// Generator is the slice of the resilient client the nodes need. *llm.Client
// satisfies it; tests inject fakes.
type Generator interface {
	GenerateText(ctx context.Context, req llm.TextRequest) (*llm.TextResponse, error)
	GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error)
}

const intentShape = `{"summary": string, "mood": string, "setting": string, "characters": [string]}`

const intentSystem = `You are a storyboard planner. Read the scene text and distill its intent.
Respond with only a JSON object of this shape: ` + intentShape

// SceneIntentNode distills the scene text into a summary, mood, setting, and
// character list.
type SceneIntentNode struct {
	Gen      Generator
	Repairer *repair.Repairer
}

func (n *SceneIntentNode) Name() string         { return "scene-intent" }
func (n *SceneIntentNode) ArtifactType() string { return TypeSceneIntent }

func (n *SceneIntentNode) Run(ctx context.Context, st *State) (any, error) {
	resp, err := n.Gen.GenerateText(ctx, llm.TextRequest{
		System: intentSystem,
		Prompt: fmt.Sprintf("Visual style: %s\n\nScene text:\n%s", st.Style(), st.Scene().SourceText),
	})
	if err != nil {
		return nil, err
	}

	var intent SceneIntent
	if err := n.Repairer.Parse(ctx, resp.Text, intentShape, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.Summary) == "" {
		intent.Summary = firstSentence(st.Scene().SourceText)
	}
	return &intent, nil
}

const planShape = `{"panels": [{"description": string, "weight": number, "must_dominate": bool}]}`

const planSystem = `You are a storyboard planner. Break the scene into panels, each with a
description, a visual weight in (0, 1], and whether it must dominate the page.
Respond with only a JSON object of this shape: ` + planShape

// PanelPlanNode turns the scene intent into an ordered panel plan. When the
// model's output cannot be recovered, it degrades to a heuristic plan derived
// from the scene text instead of failing the run.
type PanelPlanNode struct {
	Gen       Generator
	Repairer  *repair.Repairer
	MaxPanels int
}

func (n *PanelPlanNode) Name() string         { return "panel-plan" }
func (n *PanelPlanNode) ArtifactType() string { return TypePanelPlan }

func (n *PanelPlanNode) Run(ctx context.Context, st *State) (any, error) {
	maxPanels := n.MaxPanels
	if maxPanels <= 0 {
		maxPanels = defaultMaxPanels
	}
	if st.ForceSinglePanel() {
		maxPanels = 1
	}

	prompt := fmt.Sprintf("Plan at most %d panels.\n\nScene text:\n%s", maxPanels, st.Scene().SourceText)
	if intent := st.intent(); intent != nil {
		prompt += fmt.Sprintf("\n\nScene summary: %s\nMood: %s\nSetting: %s", intent.Summary, intent.Mood, intent.Setting)
	}

	resp, err := n.Gen.GenerateText(ctx, llm.TextRequest{System: planSystem, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	var plan PanelPlan
	if err := n.Repairer.Parse(ctx, resp.Text, planShape, &plan); err != nil {
		var ue *repair.UnrepairableError
		if errors.As(err, &ue) {
			log.Printf("component=pipeline node=panel-plan action=degraded_fallback scene=%s", st.Scene().ID)
			return heuristicPlan(st.Scene().SourceText, maxPanels), nil
		}
		return nil, err
	}

	sanitizePlan(&plan, maxPanels)
	if len(plan.Panels) == 0 {
		log.Printf("component=pipeline node=panel-plan action=degraded_fallback scene=%s reason=empty_plan", st.Scene().ID)
		return heuristicPlan(st.Scene().SourceText, maxPanels), nil
	}
	return &plan, nil
}

// sanitizePlan clamps the plan to the panel budget and drops panels with no
// description. Weights are left as the model produced them; the plan step's
// validation back-edge handles out-of-range values.
func sanitizePlan(plan *PanelPlan, maxPanels int) {
	if len(plan.Panels) > maxPanels {
		plan.Panels = plan.Panels[:maxPanels]
	}
	kept := plan.Panels[:0]
	for _, p := range plan.Panels {
		if strings.TrimSpace(p.Description) == "" {
			continue
		}
		kept = append(kept, p)
	}
	plan.Panels = kept
}

// planWeightsValid is the validation check behind the panel-plan back-edge:
// every weight must land in (0, 1].
func planWeightsValid(_ *State, payload any) error {
	plan, ok := payload.(*PanelPlan)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}
	for i, p := range plan.Panels {
		if p.Weight <= 0 || p.Weight > 1 {
			return fmt.Errorf("panel %d weight %v outside (0, 1]", i, p.Weight)
		}
	}
	return nil
}

// heuristicPlan builds a degraded plan directly from the text: sentences are
// grouped into beats and weighted by their share of the scene.
func heuristicPlan(sourceText string, maxPanels int) *PanelPlan {
	sentences := splitSentences(sourceText)
	if len(sentences) == 0 {
		sentences = []string{sourceText}
	}

	count := len(sentences)
	if count > maxPanels {
		count = maxPanels
	}

	totalLen := 0
	for _, s := range sentences {
		totalLen += len(s)
	}

	plan := &PanelPlan{Degraded: true}
	perBeat := len(sentences) / count
	extra := len(sentences) % count
	idx := 0
	for i := 0; i < count; i++ {
		size := perBeat
		if i < extra {
			size++
		}
		beat := strings.Join(sentences[idx:idx+size], " ")
		idx += size

		w := float64(len(beat)) / float64(totalLen)
		if w < 0.1 {
			w = 0.1
		}
		if w > 1 {
			w = 1
		}
		plan.Panels = append(plan.Panels, PanelBeat{Description: beat, Weight: w})
	}
	return plan
}

// LayoutNode resolves the panel plan into a template and concrete geometry.
// Pure computation; the generative layer is not involved.
type LayoutNode struct {
	Resolver *layout.Resolver
	Library  layout.Library

	// History is read for the recency penalty only. The story runner records
	// the final choice once the scene completes, so a scene that loops back
	// through a back-edge cannot fill the recency window with its own retries.
	History *TemplateHistory
}

func (n *LayoutNode) Name() string         { return "layout" }
func (n *LayoutNode) ArtifactType() string { return TypeLayoutTemplate }

func (n *LayoutNode) Run(ctx context.Context, st *State) (any, error) {
	plan := st.plan()
	if plan == nil {
		return nil, fmt.Errorf("no panel plan in state")
	}

	specs := make([]layout.PanelSpec, len(plan.Panels))
	for i, p := range plan.Panels {
		specs[i] = layout.PanelSpec{Weight: p.Weight, MustDominate: p.MustDominate}
	}

	var recent []string
	if n.History != nil {
		recent = n.History.Recent(2)
	}
	res, err := n.Resolver.Resolve(specs, n.Library, recent)
	if err != nil {
		return nil, err
	}
	return &LayoutChoice{TemplateID: res.TemplateID, Rects: res.Rects}, nil
}

const semanticsShape = `{"panels": [{"visual_prompt": string, "dialogue": [{"speaker": string, "text": string}], "caption": string}]}`

const semanticsSystem = `You are a storyboard artist. For each planned panel, write a concrete
visual prompt plus any dialogue and caption. Keep panels in plan order and
produce exactly one entry per planned panel.
Respond with only a JSON object of this shape: ` + semanticsShape

// PanelSemanticsNode fills each planned panel with a renderable visual prompt
// and dialogue. When the model's output cannot be recovered it degrades to
// the plan's beat descriptions.
type PanelSemanticsNode struct {
	Gen      Generator
	Repairer *repair.Repairer
}

func (n *PanelSemanticsNode) Name() string         { return "panel-semantics" }
func (n *PanelSemanticsNode) ArtifactType() string { return TypePanelSemantics }

func (n *PanelSemanticsNode) Run(ctx context.Context, st *State) (any, error) {
	plan := st.plan()
	if plan == nil {
		return nil, fmt.Errorf("no panel plan in state")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Visual style: %s\n", st.Style())
	if intent := st.intent(); intent != nil {
		fmt.Fprintf(&b, "Scene summary: %s\nMood: %s\nSetting: %s\n", intent.Summary, intent.Mood, intent.Setting)
	}
	if lc := st.layoutChoice(); lc != nil {
		fmt.Fprintf(&b, "Layout template: %s\n", lc.TemplateID)
	}
	b.WriteString("\nPlanned panels:\n")
	for i, p := range plan.Panels {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Description)
	}

	resp, err := n.Gen.GenerateText(ctx, llm.TextRequest{System: semanticsSystem, Prompt: b.String()})
	if err != nil {
		return nil, err
	}

	var sem PanelSemantics
	if err := n.Repairer.Parse(ctx, resp.Text, semanticsShape, &sem); err != nil {
		var ue *repair.UnrepairableError
		if errors.As(err, &ue) {
			log.Printf("component=pipeline node=panel-semantics action=degraded_fallback scene=%s", st.Scene().ID)
			return semanticsFromPlan(plan), nil
		}
		return nil, err
	}
	return &sem, nil
}

// semanticsFromPlan is the degraded fallback: beat descriptions become the
// visual prompts verbatim.
func semanticsFromPlan(plan *PanelPlan) *PanelSemantics {
	sem := &PanelSemantics{Panels: make([]PanelDetail, len(plan.Panels))}
	for i, p := range plan.Panels {
		sem.Panels[i] = PanelDetail{VisualPrompt: p.Description}
	}
	return sem
}

// semanticsMatchesPlan is the validation check behind the panel-semantics
// back-edge: the model must produce exactly one entry per planned panel.
func semanticsMatchesPlan(st *State, payload any) error {
	sem, ok := payload.(*PanelSemantics)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}
	plan := st.plan()
	if plan == nil {
		return fmt.Errorf("no panel plan in state")
	}
	if len(sem.Panels) != len(plan.Panels) {
		return fmt.Errorf("semantics has %d panels, plan has %d", len(sem.Panels), len(plan.Panels))
	}
	for i, p := range sem.Panels {
		if strings.TrimSpace(p.VisualPrompt) == "" {
			return fmt.Errorf("panel %d has an empty visual prompt", i)
		}
	}
	return nil
}

// PanelImageNode renders one image per panel. Only included in the step
// sequence when image rendering is enabled.
type PanelImageNode struct {
	Gen  Generator
	Size string
}

func (n *PanelImageNode) Name() string         { return "panel-image" }
func (n *PanelImageNode) ArtifactType() string { return TypePanelImage }

func (n *PanelImageNode) Run(ctx context.Context, st *State) (any, error) {
	sem, ok := st.Output(TypePanelSemantics)
	if !ok {
		return nil, fmt.Errorf("no panel semantics in state")
	}
	semantics := sem.(*PanelSemantics)

	set := &ImageSet{}
	for i, panel := range semantics.Panels {
		prompt := fmt.Sprintf("%s, %s style", panel.VisualPrompt, st.Style())
		resp, err := n.Gen.GenerateImage(ctx, llm.ImageRequest{Prompt: prompt, Size: n.Size})
		if err != nil {
			return nil, fmt.Errorf("panel %d: %w", i, err)
		}
		set.Images = append(set.Images, PanelImage{
			PanelIndex: i,
			MediaType:  "image/png",
			Data:       resp.Data,
			Model:      resp.Model,
		})
	}
	return set, nil
}

// firstSentence returns the first sentence of text, trimmed.
func firstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	return sentences[0]
}

// splitSentences breaks text on sentence-ending punctuation. Rough, but only
// used for degraded fallbacks and summaries.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}
