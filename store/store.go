// ABOUTME: Data model and error taxonomy for the versioned artifact store.
// ABOUTME: Artifacts are immutable, lineage-chained records; scenes own them and carry the planning lock.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by point lookups when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by Create after exhausting its
	// optimistic retry budget against concurrent writers on the same
	// (scene, type) key.
	ErrVersionConflict = errors.New("artifact version conflict")

	// ErrSceneLocked is returned by Create when the owning scene's
	// planning lock is set. Locked scenes replay, never regenerate.
	ErrSceneLocked = errors.New("scene planning is locked")
)

// Artifact is one immutable pipeline node output. Versions for a fixed
// (SceneID, Type) pair are dense and strictly increasing; ParentID links
// each version to its predecessor of the same key.
type Artifact struct {
	ID        string          `json:"artifact_id"`
	SceneID   string          `json:"scene_id"`
	Type      string          `json:"type"`
	Version   int             `json:"version"`
	ParentID  *string         `json:"parent_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// Scene is one narrative unit under planning.
type Scene struct {
	ID             string    `json:"scene_id"`
	StoryID        string    `json:"story_id"`
	Index          int       `json:"index"`
	SourceText     string    `json:"source_text"`
	PlanningLocked bool      `json:"planning_locked"`
	StyleOverride  *string   `json:"style_override,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
