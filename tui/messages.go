// ABOUTME: Bubble Tea message types wrapping pipeline events for the run viewer's message loop.
package tui

import (
	"github.com/2389-research/storyboard/pipeline"
)

// EngineEventMsg wraps a pipeline event for the Bubble Tea message loop.
type EngineEventMsg struct {
	Event pipeline.Event
}

// StoryResultMsg signals that the story run has finished.
type StoryResultMsg struct {
	Result *pipeline.StoryResult
	Err    error
}
