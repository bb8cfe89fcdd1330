// ABOUTME: Scene pipeline engine: runs the node sequence, persists artifacts, honors planning locks.
// ABOUTME: Locked scenes replay stored artifacts instead of regenerating; back-edges are bounded per run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/2389-research/storyboard/store"
)

// EventType identifies the kind of engine lifecycle event.
type EventType string

const (
	EventSceneStarted   EventType = "scene.started"
	EventSceneCompleted EventType = "scene.completed"
	EventSceneFailed    EventType = "scene.failed"
	EventSceneReplayed  EventType = "scene.replayed"
	EventNodeStarted    EventType = "node.started"
	EventNodeCompleted  EventType = "node.completed"
	EventNodeFailed     EventType = "node.failed"
	EventNodeLoopBack   EventType = "node.loop_back"
)

// Event is a lifecycle event emitted during scene execution.
type Event struct {
	Type      EventType
	SceneID   string
	Node      string
	Data      map[string]any
	Timestamp time.Time
}

// SceneLockedMissingArtifactError is fatal: a locked scene was asked to run
// but has no stored artifact for a required type, and regeneration is
// forbidden by the lock.
type SceneLockedMissingArtifactError struct {
	SceneID      string
	ArtifactType string
}

func (e *SceneLockedMissingArtifactError) Error() string {
	return fmt.Sprintf("scene %s is locked but has no %s artifact", e.SceneID, e.ArtifactType)
}

// NodeError wraps a node failure with the node's name.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Engine executes the node sequence for one scene at a time.
type Engine struct {
	store   *store.Store
	handler func(Event)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEventHandler sets a callback invoked for every lifecycle event. The
// callback runs on the engine goroutine and must not block.
func WithEventHandler(fn func(Event)) EngineOption {
	return func(e *Engine) { e.handler = fn }
}

// NewEngine creates a scene pipeline engine backed by the given store.
func NewEngine(st *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{store: st}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(evt Event) {
	evt.Timestamp = time.Now().UTC()
	if e.handler != nil {
		e.handler(evt)
	}
}

// RunScene drives the scene through every step, persisting one artifact per
// successful node. Locked scenes are replayed from stored artifacts without
// touching the generative layer; a missing artifact under lock is fatal.
func (e *Engine) RunScene(ctx context.Context, st *State, steps []Step) error {
	scene := st.Scene()
	e.emit(Event{Type: EventSceneStarted, SceneID: scene.ID, Data: map[string]any{"index": scene.Index}})

	if scene.PlanningLocked {
		if err := e.replay(ctx, st, steps); err != nil {
			e.emit(Event{Type: EventSceneFailed, SceneID: scene.ID, Data: map[string]any{"error": err.Error()}})
			return err
		}
		e.emit(Event{Type: EventSceneReplayed, SceneID: scene.ID})
		return nil
	}

	total := len(steps)
	loopCounts := make(map[int]int)

	for i := 0; i < len(steps); {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			e.emit(Event{Type: EventSceneFailed, SceneID: scene.ID, Data: map[string]any{"error": err.Error()}})
			return err
		default:
		}

		step := steps[i]
		node := step.Node
		st.SetProgress(Progress{
			CurrentNode: node.Name(),
			Message:     "running " + node.Name(),
			Step:        i + 1,
			TotalSteps:  total,
		})
		e.emit(Event{Type: EventNodeStarted, SceneID: scene.ID, Node: node.Name(), Data: map[string]any{
			"step":        i + 1,
			"total_steps": total,
		}})

		payload, err := e.runNode(ctx, node, st)
		if err != nil {
			nerr := &NodeError{Node: node.Name(), Err: err}
			e.emit(Event{Type: EventNodeFailed, SceneID: scene.ID, Node: node.Name(), Data: map[string]any{"error": err.Error()}})
			e.emit(Event{Type: EventSceneFailed, SceneID: scene.ID, Data: map[string]any{"error": nerr.Error()}})
			return nerr
		}

		if step.Validate != nil {
			if verr := step.Validate.Check(st, payload); verr != nil {
				loopCounts[i]++
				if loopCounts[i] > maxLoopBacks {
					nerr := &NodeError{Node: node.Name(), Err: fmt.Errorf("validation still failing after %d loop-backs: %w", maxLoopBacks, verr)}
					e.emit(Event{Type: EventNodeFailed, SceneID: scene.ID, Node: node.Name(), Data: map[string]any{"error": nerr.Error()}})
					e.emit(Event{Type: EventSceneFailed, SceneID: scene.ID, Data: map[string]any{"error": nerr.Error()}})
					return nerr
				}
				target := stepIndex(steps, step.Validate.Target)
				if target < 0 || target > i {
					nerr := &NodeError{Node: node.Name(), Err: fmt.Errorf("back-edge target %q not found among earlier steps", step.Validate.Target)}
					e.emit(Event{Type: EventSceneFailed, SceneID: scene.ID, Data: map[string]any{"error": nerr.Error()}})
					return nerr
				}
				log.Printf("component=pipeline action=loop_back scene=%s from=%s to=%s count=%d reason=%q",
					scene.ID, node.Name(), step.Validate.Target, loopCounts[i], verr.Error())
				e.emit(Event{Type: EventNodeLoopBack, SceneID: scene.ID, Node: node.Name(), Data: map[string]any{
					"target": step.Validate.Target,
					"count":  loopCounts[i],
					"reason": verr.Error(),
				}})
				i = target
				continue
			}
		}

		art, err := e.store.Create(ctx, scene.ID, node.ArtifactType(), payload, "pipeline:"+node.Name())
		if err != nil {
			nerr := &NodeError{Node: node.Name(), Err: fmt.Errorf("persist artifact: %w", err)}
			e.emit(Event{Type: EventSceneFailed, SceneID: scene.ID, Data: map[string]any{"error": nerr.Error()}})
			return nerr
		}
		st.SetOutput(node.ArtifactType(), payload)
		e.emit(Event{Type: EventNodeCompleted, SceneID: scene.ID, Node: node.Name(), Data: map[string]any{
			"artifact_id": art.ID,
			"version":     art.Version,
			"step":        i + 1,
			"total_steps": total,
		}})
		i++
	}

	st.SetProgress(Progress{Message: "completed", Step: total, TotalSteps: total})
	e.emit(Event{Type: EventSceneCompleted, SceneID: scene.ID})
	return nil
}

// replay loads the latest stored artifact for every step's type into the
// state. The generative layer is never touched.
func (e *Engine) replay(ctx context.Context, st *State, steps []Step) error {
	scene := st.Scene()
	total := len(steps)
	for i, step := range steps {
		typ := step.Node.ArtifactType()
		st.SetProgress(Progress{
			CurrentNode: step.Node.Name(),
			Message:     "replaying " + typ,
			Step:        i + 1,
			TotalSteps:  total,
		})
		art, err := e.store.Latest(ctx, scene.ID, typ)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &SceneLockedMissingArtifactError{SceneID: scene.ID, ArtifactType: typ}
			}
			return fmt.Errorf("load %s for replay: %w", typ, err)
		}
		payload, err := DecodePayload(typ, art.Payload)
		if err != nil {
			return err
		}
		st.SetOutput(typ, payload)
	}
	st.SetProgress(Progress{Message: "replayed", Step: total, TotalSteps: total})
	return nil
}

// runNode executes one node with panic recovery so a bad node cannot take
// down the whole run.
func (e *Engine) runNode(ctx context.Context, node Node, st *State) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return node.Run(ctx, st)
}

func stepIndex(steps []Step, name string) int {
	for i, s := range steps {
		if s.Node.Name() == name {
			return i
		}
	}
	return -1
}
