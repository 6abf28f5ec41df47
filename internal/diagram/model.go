package diagram

import "github.com/formlane/formlane/pkg/schema"

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   schema.NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries a node's outcome from a run trace.
type StatusOverlay struct {
	Status     string // from schema.NodeStatus
	SkipReason string
	DurationMs int64
	Error      string
}

// Edge represents a directed edge between two nodes. Label holds the edge
// condition, if any.
type Edge struct {
	From  string
	To    string
	Label string
}
