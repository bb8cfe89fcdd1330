// ABOUTME: Dependency wiring for the CLI: generative client, repairer, layout resolver, runner factory.
// ABOUTME: Also renders the post-run summary with per-scene artifact versions.
package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/storyboard/config"
	"github.com/2389-research/storyboard/layout"
	"github.com/2389-research/storyboard/llm"
	"github.com/2389-research/storyboard/pipeline"
	"github.com/2389-research/storyboard/repair"
	"github.com/2389-research/storyboard/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	sceneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// deps bundles everything a runner needs beyond the store.
type deps struct {
	client   *llm.Client
	repairer *repair.Repairer
	resolver *layout.Resolver
	library  layout.Library
	cfg      *config.Config
}

// buildDeps constructs the generative client and layout machinery from config.
func buildDeps(cfg *config.Config) (*deps, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, config.ErrMissingAPIKey
	}

	provider := llm.NewOpenAIProvider(apiKey, cfg.Models.BaseURL)
	client := llm.NewClient(provider,
		llm.WithBreakers(llm.NewBreakerRegistry(llm.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown.Std(),
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
		})),
		llm.WithDefaultModel(llm.OpTextGeneration, cfg.Models.Text),
		llm.WithDefaultModel(llm.OpImageGeneration, cfg.Models.Image),
		llm.WithFallbackModel(llm.OpTextGeneration, cfg.Models.TextFallback),
		llm.WithFallbackModel(llm.OpImageGeneration, cfg.Models.ImageFallback),
	)

	lib := layout.DefaultLibrary()
	if cfg.Layout.TemplatesPath != "" {
		var err error
		lib, err = layout.LoadLibraryFile(cfg.Layout.TemplatesPath)
		if err != nil {
			return nil, err
		}
	}
	resolver := layout.NewResolver(layout.Config{
		MinExtent:      cfg.Layout.MinExtent,
		MaxNonDominant: cfg.Layout.MaxNonDominant,
	})

	return &deps{
		client:   client,
		repairer: repair.New(client),
		resolver: resolver,
		library:  lib,
		cfg:      cfg,
	}, nil
}

// newRunner builds a story runner over the given store.
func (d *deps) newRunner(st *store.Store, opts ...pipeline.EngineOption) *pipeline.Runner {
	return pipeline.NewRunner(st, d.client, d.repairer, d.resolver, d.library,
		pipeline.RunnerConfig{
			MaxConcurrent: d.cfg.Runner.MaxConcurrent,
			MaxPanels:     d.cfg.Runner.MaxPanels,
			ImageSize:     d.cfg.Runner.ImageSize,
			DefaultStyle:  d.cfg.Runner.DefaultStyle,
		}, opts...)
}

// runValidate checks the configuration and the layout template library
// without touching the database or the generative layer.
func runValidate(w io.Writer, cfg *config.Config) int {
	lib := layout.DefaultLibrary()
	if cfg.Layout.TemplatesPath != "" {
		var err error
		lib, err = layout.LoadLibraryFile(cfg.Layout.TemplatesPath)
		if err != nil {
			fmt.Fprintf(w, "templates: %v\n", err)
			return 1
		}
	}

	ok := true
	for n := 1; n <= cfg.Runner.MaxPanels; n++ {
		if len(lib.ByPanelCount(n)) == 0 {
			fmt.Fprintf(w, "templates: no template lays out %d panels\n", n)
			ok = false
		}
	}
	if !ok {
		return 1
	}

	fmt.Fprintf(w, "config ok: db=%s text_model=%s image_model=%s\n", cfg.DBPath, cfg.Models.Text, cfg.Models.Image)
	fmt.Fprintf(w, "templates ok: %d templates covering 1-%d panels\n", len(lib.Templates), cfg.Runner.MaxPanels)
	if cfg.APIKey() == "" {
		fmt.Fprintln(w, "warning: no API key configured (OPENAI_API_KEY or models.api_key)")
	}
	return 0
}

// printSummary writes the per-scene artifact listing for a finished story.
func printSummary(w io.Writer, st *store.Store, result *pipeline.StoryResult) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("story %s", result.StoryID)))
	for i, sceneID := range result.SceneIDs {
		fmt.Fprintln(w, sceneStyle.Render(fmt.Sprintf("  scene %d  %s", i+1, sceneID)))
		arts, err := st.List(context.Background(), sceneID, "")
		if err != nil {
			fmt.Fprintf(w, "    error listing artifacts: %v\n", err)
			continue
		}
		for _, a := range arts {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("    %-16s v%d  %s", a.Type, a.Version, a.ID)))
		}
	}
}
