// ABOUTME: Bridges engine events and the story run into Bubble Tea commands.
// ABOUTME: The bridge's HandleEvent matches the engine handler signature; events flow through a buffered channel.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/storyboard/pipeline"
)

// EventBridge forwards engine events from the run goroutine into the TUI.
type EventBridge struct {
	ch chan pipeline.Event
}

// NewEventBridge creates a bridge with a buffer large enough for a full run.
func NewEventBridge() *EventBridge {
	return &EventBridge{ch: make(chan pipeline.Event, 512)}
}

// HandleEvent enqueues an event; it never blocks the engine. Dropped events
// only cost display fidelity.
func (b *EventBridge) HandleEvent(evt pipeline.Event) {
	select {
	case b.ch <- evt:
	default:
	}
}

// WaitForEventCmd returns a command that delivers the next engine event.
func (b *EventBridge) WaitForEventCmd() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-b.ch
		if !ok {
			return nil
		}
		return EngineEventMsg{Event: evt}
	}
}

// RunStoryCmd starts the story run and delivers its result when done.
func RunStoryCmd(ctx context.Context, runner *pipeline.Runner, req pipeline.StoryRequest) tea.Cmd {
	return func() tea.Msg {
		result, err := runner.RunStory(ctx, req)
		return StoryResultMsg{Result: result, Err: err}
	}
}
