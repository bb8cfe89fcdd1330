// ABOUTME: Append-only NDJSON event log for story runs plus a live.json status snapshot.
// ABOUTME: HandleEvent matches the engine's event handler signature so it wires in directly.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProgressEntry is one NDJSON line in the run log.
type ProgressEntry struct {
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	SceneID   string         `json:"scene_id,omitempty"`
	Node      string         `json:"node,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// LiveState is the current run snapshot, rewritten to live.json after each
// event so external tools can poll it.
type LiveState struct {
	Status          string   `json:"status"`
	ActiveScenes    []string `json:"active_scenes"`
	CompletedScenes []string `json:"completed_scenes"`
	FailedScenes    []string `json:"failed_scenes"`
	StartedAt       string   `json:"started_at"`
	UpdatedAt       string   `json:"updated_at"`
	EventCount      int      `json:"event_count"`
}

// ProgressLogger appends engine events to progress.ndjson and maintains
// live.json in the same directory.
type ProgressLogger struct {
	dir         string
	file        *os.File
	state       LiveState
	mu          sync.Mutex
	closed      bool
	WriteErrors int
}

// NewProgressLogger opens progress.ndjson for appending in dir and writes an
// initial pending live.json.
func NewProgressLogger(dir string) (*ProgressLogger, error) {
	f, err := os.OpenFile(filepath.Join(dir, "progress.ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	pl := &ProgressLogger{
		dir:  dir,
		file: f,
		state: LiveState{
			Status:          "pending",
			ActiveScenes:    []string{},
			CompletedScenes: []string{},
			FailedScenes:    []string{},
		},
	}
	if err := pl.writeLiveJSON(); err != nil {
		f.Close()
		return nil, err
	}
	return pl, nil
}

// HandleEvent appends the event to the NDJSON log and updates live.json.
// Write failures are counted but never fail the run.
func (p *ProgressLogger) HandleEvent(evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	entry := ProgressEntry{
		Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
		Type:      string(evt.Type),
		SceneID:   evt.SceneID,
		Node:      evt.Node,
		Data:      evt.Data,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		p.WriteErrors++
		fmt.Fprintf(os.Stderr, "[progress] marshal error: %v\n", err)
	} else {
		line = append(line, '\n')
		if _, err := p.file.Write(line); err != nil {
			p.WriteErrors++
			fmt.Fprintf(os.Stderr, "[progress] write error: %v\n", err)
		}
	}

	switch evt.Type {
	case EventSceneStarted:
		if p.state.Status == "pending" {
			p.state.Status = "running"
			p.state.StartedAt = evt.Timestamp.UTC().Format(time.RFC3339)
		}
		p.state.ActiveScenes = append(p.state.ActiveScenes, evt.SceneID)
	case EventSceneCompleted, EventSceneReplayed:
		p.state.ActiveScenes = remove(p.state.ActiveScenes, evt.SceneID)
		p.state.CompletedScenes = append(p.state.CompletedScenes, evt.SceneID)
	case EventSceneFailed:
		p.state.ActiveScenes = remove(p.state.ActiveScenes, evt.SceneID)
		p.state.FailedScenes = append(p.state.FailedScenes, evt.SceneID)
		p.state.Status = "failed"
	}
	if p.state.Status == "running" && len(p.state.ActiveScenes) == 0 && len(p.state.FailedScenes) == 0 {
		p.state.Status = "succeeded"
	}

	p.state.EventCount++
	p.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := p.writeLiveJSON(); err != nil {
		fmt.Fprintf(os.Stderr, "[progress] live.json write error: %v\n", err)
	}
}

// Close closes the NDJSON file. HandleEvent becomes a no-op afterwards.
func (p *ProgressLogger) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.file.Close()
}

// State returns a copy of the live state.
func (p *ProgressLogger) State() LiveState {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.state
	cp.ActiveScenes = append([]string(nil), p.state.ActiveScenes...)
	cp.CompletedScenes = append([]string(nil), p.state.CompletedScenes...)
	cp.FailedScenes = append([]string(nil), p.state.FailedScenes...)
	return cp
}

func (p *ProgressLogger) writeLiveJSON() error {
	data, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(p.dir, "live.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func remove(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
