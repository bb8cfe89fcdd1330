// ABOUTME: Per-scene run state shared between pipeline nodes: typed outputs plus a progress snapshot.
// ABOUTME: All access is mutex-guarded so observers can poll while the scene runs.
package pipeline

import (
	"sync"

	"github.com/2389-research/storyboard/store"
)

// Progress is a point-in-time description of where a scene run is.
type Progress struct {
	CurrentNode string `json:"current_node"`
	Message     string `json:"message"`
	Step        int    `json:"step"`
	TotalSteps  int    `json:"total_steps"`
}

// State carries a scene's inputs and accumulated node outputs through a run.
// Nodes read earlier outputs and write their own; observers poll progress.
type State struct {
	mu sync.RWMutex

	scene   *store.Scene
	style   string
	outputs map[string]any
	prog    Progress

	// forceSinglePanel is set by the story-level guardrail when this scene
	// was designated to carry the mandatory single-panel beat.
	forceSinglePanel bool
}

// NewState creates run state for one scene. style is the story style unless
// the scene carries an override.
func NewState(scene *store.Scene, style string) *State {
	if scene.StyleOverride != nil && *scene.StyleOverride != "" {
		style = *scene.StyleOverride
	}
	return &State{
		scene:   scene,
		style:   style,
		outputs: make(map[string]any),
	}
}

// Scene returns the scene this state belongs to.
func (s *State) Scene() *store.Scene {
	return s.scene
}

// Style returns the effective visual style for this scene.
func (s *State) Style() string {
	return s.style
}

// SetOutput records a node's typed output under its artifact type.
func (s *State) SetOutput(artifactType string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[artifactType] = v
}

// Output returns the recorded output for an artifact type.
func (s *State) Output(artifactType string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.outputs[artifactType]
	return v, ok
}

// Outputs returns a copy of the output map.
func (s *State) Outputs() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// SetProgress replaces the progress snapshot.
func (s *State) SetProgress(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prog = p
}

// Progress returns the current progress snapshot.
func (s *State) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prog
}

func (s *State) setForceSinglePanel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceSinglePanel = true
}

// ForceSinglePanel reports whether the single-panel guardrail designated
// this scene.
func (s *State) ForceSinglePanel() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forceSinglePanel
}

// intent returns the scene intent output if present.
func (s *State) intent() *SceneIntent {
	if v, ok := s.Output(TypeSceneIntent); ok {
		if si, ok := v.(*SceneIntent); ok {
			return si
		}
	}
	return nil
}

// plan returns the panel plan output if present.
func (s *State) plan() *PanelPlan {
	if v, ok := s.Output(TypePanelPlan); ok {
		if p, ok := v.(*PanelPlan); ok {
			return p
		}
	}
	return nil
}

// layoutChoice returns the layout output if present.
func (s *State) layoutChoice() *LayoutChoice {
	if v, ok := s.Output(TypeLayoutTemplate); ok {
		if lc, ok := v.(*LayoutChoice); ok {
			return lc
		}
	}
	return nil
}
