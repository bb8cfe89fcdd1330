// ABOUTME: Story run tracking for the web layer: job lifecycle, SSE event formatting.
// ABOUTME: Each run owns a cancellation context and a buffered engine-event channel for streaming.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389-research/storyboard/pipeline"
)

// Run statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunState is the externally visible state of a story run.
type RunState struct {
	ID          string                `json:"id"`
	Status      string                `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Progress    *pipeline.Progress    `json:"progress,omitempty"`
	Result      *pipeline.StoryResult `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Run holds the live state of one story run.
type Run struct {
	mu     sync.Mutex
	state  RunState
	events chan pipeline.Event
	cancel context.CancelFunc
}

// State returns a copy of the run state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HandleEvent folds the event into the polled progress snapshot and buffers
// it for SSE streaming. Events are dropped from the stream when no consumer
// keeps up; the NDJSON log is the durable record.
func (r *Run) HandleEvent(evt pipeline.Event) {
	if p := progressFromEvent(evt); p != nil {
		r.mu.Lock()
		r.state.Progress = p
		r.mu.Unlock()
	}
	select {
	case r.events <- evt:
	default:
	}
}

// progressFromEvent maps node lifecycle events onto the poll-visible
// progress shape. Other event types leave the snapshot untouched.
func progressFromEvent(evt pipeline.Event) *pipeline.Progress {
	switch evt.Type {
	case pipeline.EventNodeStarted, pipeline.EventNodeCompleted:
	default:
		return nil
	}
	p := &pipeline.Progress{CurrentNode: evt.Node}
	if evt.Type == pipeline.EventNodeStarted {
		p.Message = "running " + evt.Node
	} else {
		p.Message = "finished " + evt.Node
	}
	if step, ok := evt.Data["step"].(int); ok {
		p.Step = step
	}
	if total, ok := evt.Data["total_steps"].(int); ok {
		p.TotalSteps = total
	}
	return p
}

func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Status = StatusRunning
	r.state.StartedAt = time.Now().UTC()
}

func (r *Run) finish(result *pipeline.StoryResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.state.CompletedAt = &now
	if err != nil {
		r.state.Status = StatusFailed
		r.state.Error = err.Error()
	} else {
		r.state.Status = StatusSucceeded
		r.state.Result = result
	}
	close(r.events)
}

// RunRegistry tracks active and finished story runs in memory.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*Run)}
}

// Create registers a new queued run.
func (reg *RunRegistry) Create(cancel context.CancelFunc) *Run {
	run := &Run{
		state:  RunState{ID: uuid.NewString(), Status: StatusQueued},
		events: make(chan pipeline.Event, 256),
		cancel: cancel,
	}
	reg.mu.Lock()
	reg.runs[run.state.ID] = run
	reg.mu.Unlock()
	return run
}

// Get returns the run with the given id.
func (reg *RunRegistry) Get(id string) (*Run, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	run, ok := reg.runs[id]
	return run, ok
}

// SSEEvent is one server-sent event ready for transmission.
type SSEEvent struct {
	Event string
	Data  string
}

// Format renders the event per the SSE wire format.
func (e SSEEvent) Format() string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Event, e.Data)
}

// engineEventToSSE converts an engine event for streaming to the browser.
func engineEventToSSE(evt pipeline.Event) SSEEvent {
	data := map[string]any{
		"timestamp": evt.Timestamp.Format(time.RFC3339),
	}
	if evt.SceneID != "" {
		data["scene_id"] = evt.SceneID
	}
	if evt.Node != "" {
		data["node"] = evt.Node
	}
	for k, v := range evt.Data {
		data[k] = v
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		jsonData = []byte(`{"error":"failed to marshal event"}`)
	}
	return SSEEvent{Event: string(evt.Type), Data: string(jsonData)}
}
