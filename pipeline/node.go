// ABOUTME: Node and Step definitions for the scene pipeline: a fixed sequence with optional validation back-edges.
// ABOUTME: A back-edge routes execution to an earlier step a bounded number of times before the run fails.
package pipeline

import "context"

// maxLoopBacks bounds how many times a single back-edge may fire during one
// scene run. Exceeding it fails the run rather than looping forever.
const maxLoopBacks = 3

// Node is one stage of the scene pipeline. Run reads prior outputs from the
// state and returns this node's typed payload; the engine persists it.
type Node interface {
	Name() string
	ArtifactType() string
	Run(ctx context.Context, st *State) (any, error)
}

// BackEdge sends execution back to an earlier node when validation of the
// current node's output fails.
type BackEdge struct {
	// Target names the node to loop back to. It must appear earlier in the
	// step sequence (or be the current node itself).
	Target string
	// Check inspects the node's payload against the accumulated state. A
	// non-nil error triggers the loop-back.
	Check func(st *State, payload any) error
}

// Step pairs a node with its optional validation back-edge.
type Step struct {
	Node     Node
	Validate *BackEdge
}
