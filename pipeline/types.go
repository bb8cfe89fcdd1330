// ABOUTME: Artifact type constants and the typed payloads flowing between pipeline nodes.
// ABOUTME: DecodePayload maps a stored artifact back onto its typed form for locked-scene replay.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/2389-research/storyboard/layout"
)

// Artifact types produced by the scene pipeline, in node order.
const (
	TypeSceneIntent    = "scene_intent"
	TypePanelPlan      = "panel_plan"
	TypeLayoutTemplate = "layout_template"
	TypePanelSemantics = "panel_semantics"
	TypePanelImage     = "panel_image"
)

// SceneIntent captures what a scene is about before any paneling decisions.
type SceneIntent struct {
	Summary    string   `json:"summary"`
	Mood       string   `json:"mood"`
	Setting    string   `json:"setting"`
	Characters []string `json:"characters"`
}

// PanelBeat is one story beat mapped to a panel: what happens and how much
// visual weight it deserves.
type PanelBeat struct {
	Description  string  `json:"description"`
	Weight       float64 `json:"weight"`
	MustDominate bool    `json:"must_dominate"`
}

// PanelPlan is the ordered list of beats chosen for a scene.
type PanelPlan struct {
	Panels []PanelBeat `json:"panels"`
	// Degraded marks a plan produced by the heuristic fallback instead of
	// the generative model.
	Degraded bool `json:"degraded,omitempty"`
}

// LayoutChoice is the resolved template and concrete panel geometry.
type LayoutChoice struct {
	TemplateID string        `json:"template_id"`
	Rects      []layout.Rect `json:"rects"`
}

// DialogueLine is one attributed line of dialogue inside a panel.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// PanelDetail is the renderable content of one panel.
type PanelDetail struct {
	VisualPrompt string         `json:"visual_prompt"`
	Dialogue     []DialogueLine `json:"dialogue,omitempty"`
	Caption      string         `json:"caption,omitempty"`
}

// PanelSemantics is the full renderable description of a scene's panels, in
// the same order as the panel plan.
type PanelSemantics struct {
	Panels []PanelDetail `json:"panels"`
}

// PanelImage is one rendered panel image.
type PanelImage struct {
	PanelIndex int    `json:"panel_index"`
	MediaType  string `json:"media_type"`
	Data       []byte `json:"data"`
	Model      string `json:"model,omitempty"`
}

// ImageSet collects the rendered images for a scene.
type ImageSet struct {
	Images []PanelImage `json:"images"`
}

// DecodePayload unmarshals a stored artifact payload into the typed value for
// its artifact type. Used during locked-scene replay, where outputs come from
// the store instead of node execution.
func DecodePayload(artifactType string, raw json.RawMessage) (any, error) {
	var v any
	switch artifactType {
	case TypeSceneIntent:
		v = &SceneIntent{}
	case TypePanelPlan:
		v = &PanelPlan{}
	case TypeLayoutTemplate:
		v = &LayoutChoice{}
	case TypePanelSemantics:
		v = &PanelSemantics{}
	case TypePanelImage:
		v = &ImageSet{}
	default:
		return nil, fmt.Errorf("unknown artifact type %q", artifactType)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", artifactType, err)
	}
	return v, nil
}
