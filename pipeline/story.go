// ABOUTME: Story runner: splits narrative text into scenes and drives each through the pipeline.
// ABOUTME: Scene runs execute concurrently under a semaphore; the first failure cancels the rest.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/2389-research/storyboard/layout"
	"github.com/2389-research/storyboard/repair"
	"github.com/2389-research/storyboard/scenes"
	"github.com/2389-research/storyboard/store"
)

// defaultMaxConcurrent bounds simultaneous scene runs per story.
const defaultMaxConcurrent = 5

// StoryRequest is a request to storyboard a full narrative.
type StoryRequest struct {
	Text         string
	Style        string
	MaxScenes    int
	RenderImages bool
}

// StoryResult describes a completed story run.
type StoryResult struct {
	StoryID  string   `json:"story_id"`
	SceneIDs []string `json:"scene_ids"`
}

// RunnerConfig tunes the story runner.
type RunnerConfig struct {
	MaxConcurrent int
	MaxPanels     int
	ImageSize     string
	DefaultStyle  string
}

// Runner wires the pipeline nodes together and executes stories.
type Runner struct {
	store    *store.Store
	gen      Generator
	repairer *repair.Repairer
	resolver *layout.Resolver
	library  layout.Library
	engine   *Engine
	cfg      RunnerConfig
}

// NewRunner creates a story runner. The engine's event handler receives
// lifecycle events from every scene run.
func NewRunner(st *store.Store, gen Generator, rep *repair.Repairer, res *layout.Resolver, lib layout.Library, cfg RunnerConfig, engineOpts ...EngineOption) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.DefaultStyle == "" {
		cfg.DefaultStyle = "clean ink and watercolor"
	}
	return &Runner{
		store:    st,
		gen:      gen,
		repairer: rep,
		resolver: res,
		library:  lib,
		engine:   NewEngine(st, engineOpts...),
		cfg:      cfg,
	}
}

// steps builds the node sequence for one story run. All scenes of a run
// share the template history so the variety guardrail spans the story.
func (r *Runner) steps(history *TemplateHistory, renderImages bool) []Step {
	steps := []Step{
		{Node: &SceneIntentNode{Gen: r.gen, Repairer: r.repairer}},
		{
			Node:     &PanelPlanNode{Gen: r.gen, Repairer: r.repairer, MaxPanels: r.cfg.MaxPanels},
			Validate: &BackEdge{Target: "panel-plan", Check: planWeightsValid},
		},
		{Node: &LayoutNode{Resolver: r.resolver, Library: r.library, History: history}},
		{
			Node:     &PanelSemanticsNode{Gen: r.gen, Repairer: r.repairer},
			Validate: &BackEdge{Target: "panel-plan", Check: semanticsMatchesPlan},
		},
	}
	if renderImages {
		steps = append(steps, Step{Node: &PanelImageNode{Gen: r.gen, Size: r.cfg.ImageSize}})
	}
	return steps
}

// RunStory splits the text into scenes, persists them, and runs each scene
// pipeline. At most MaxConcurrent scenes run at once; the first fatal scene
// error cancels the remaining ones.
func (r *Runner) RunStory(ctx context.Context, req StoryRequest) (*StoryResult, error) {
	segments := scenes.Split(req.Text, req.MaxScenes)
	if len(segments) == 0 {
		return nil, fmt.Errorf("story text contains no scenes")
	}

	style := req.Style
	if style == "" {
		style = r.cfg.DefaultStyle
	}

	storyID := ulid.Make().String()
	sceneRows := make([]*store.Scene, len(segments))
	for i, seg := range segments {
		text := seg.Text
		if seg.Title != "" {
			text = seg.Title + "\n\n" + text
		}
		sc, err := r.store.CreateScene(ctx, storyID, i, text, nil)
		if err != nil {
			return nil, fmt.Errorf("create scene %d: %w", i, err)
		}
		sceneRows[i] = sc
	}
	log.Printf("component=pipeline action=story_start story=%s scenes=%d style=%q", storyID, len(sceneRows), style)

	singlePanelIdx := designateSinglePanelScene(sceneRows)
	history := NewTemplateHistory()

	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrent))
	g, gctx := errgroup.WithContext(ctx)

	for i, sc := range sceneRows {
		st := NewState(sc, style)
		if i == singlePanelIdx {
			st.setForceSinglePanel()
		}
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			return r.runStoryScene(gctx, st, history, req.RenderImages)
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("component=pipeline action=story_failed story=%s error=%v", storyID, err)
		return nil, err
	}

	result := &StoryResult{StoryID: storyID}
	for _, sc := range sceneRows {
		result.SceneIDs = append(result.SceneIDs, sc.ID)
	}
	log.Printf("component=pipeline action=story_done story=%s scenes=%d", storyID, len(result.SceneIDs))
	return result, nil
}

// runStoryScene executes one scene and records its final template choice.
// The history records settled choices only; back-edge retries inside the
// scene never reach it.
func (r *Runner) runStoryScene(ctx context.Context, st *State, history *TemplateHistory, renderImages bool) error {
	if err := r.engine.RunScene(ctx, st, r.steps(history, renderImages)); err != nil {
		return err
	}
	if lc := st.layoutChoice(); lc != nil {
		history.Record(lc.TemplateID)
	}
	return nil
}

// RunScene re-runs the pipeline for one existing scene. Unlocked scenes
// regenerate every artifact as a new version; locked scenes replay stored
// artifacts.
func (r *Runner) RunScene(ctx context.Context, sceneID string, style string, renderImages bool) (*State, error) {
	sc, err := r.store.GetScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if style == "" {
		style = r.cfg.DefaultStyle
	}
	st := NewState(sc, style)
	if err := r.engine.RunScene(ctx, st, r.steps(NewTemplateHistory(), renderImages)); err != nil {
		return nil, err
	}
	return st, nil
}
