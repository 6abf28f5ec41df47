package engine

import (
	"github.com/formlane/formlane/pkg/schema"
)

// CompiledGraph is the validated, traversal-ready form of a published graph.
// Outgoing edges keep their definition order so traversal is deterministic.
// Executors are bound per node kind at compile time; an unknown kind is a
// compile error, never a runtime branch.
type CompiledGraph struct {
	Nodes     map[string]*schema.Node
	Outgoing  map[string][]schema.Edge
	Start     string
	AliasMap  map[string]string // alias -> node ID
	executors map[schema.NodeKind]NodeExecutor
}

// CompileGraph validates structure and binds an executor to every node. All
// problems found here are fatal: a malformed graph aborts the run before any
// node executes.
func CompileGraph(g *schema.Graph, executors map[schema.NodeKind]NodeExecutor) (*CompiledGraph, *schema.EngineError) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeFatalGraph, "graph has no nodes")
	}
	if g.StartNodeID == "" {
		return nil, schema.NewError(schema.ErrCodeFatalGraph, "graph has no start node")
	}

	cg := &CompiledGraph{
		Nodes:     make(map[string]*schema.Node, len(g.Nodes)),
		Outgoing:  make(map[string][]schema.Edge),
		Start:     g.StartNodeID,
		AliasMap:  make(map[string]string),
		executors: executors,
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeFatalGraph, "node with empty id")
		}
		if _, dup := cg.Nodes[node.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeFatalGraph, "duplicate node id %q", node.ID)
		}
		if _, ok := executors[node.Type]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeFatalGraph,
				"unknown node type %q", node.Type).WithNode(node.ID)
		}
		cg.Nodes[node.ID] = node

		if node.Alias != "" {
			if prev, dup := cg.AliasMap[node.Alias]; dup {
				return nil, schema.NewErrorf(schema.ErrCodeFatalGraph,
					"alias %q used by nodes %q and %q", node.Alias, prev, node.ID)
			}
			cg.AliasMap[node.Alias] = node.ID
		}
	}

	if _, ok := cg.Nodes[g.StartNodeID]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeFatalGraph,
			"start node %q not found in graph", g.StartNodeID)
	}

	for _, edge := range g.Edges {
		if _, ok := cg.Nodes[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeFatalGraph,
				"edge source %q not found in graph", edge.Source)
		}
		if _, ok := cg.Nodes[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeFatalGraph,
				"edge target %q not found in graph", edge.Target)
		}
		cg.Outgoing[edge.Source] = append(cg.Outgoing[edge.Source], edge)
	}

	return cg, nil
}

// ExecutorFor returns the executor bound to the node's kind. Binding happened
// at compile time, so the lookup cannot miss for a compiled graph's nodes.
func (cg *CompiledGraph) ExecutorFor(node *schema.Node) NodeExecutor {
	return cg.executors[node.Type]
}

// OutputNodeCount returns how many output nodes the graph declares. The
// runner uses it to decide run status: with output nodes present, a run
// succeeds only if every one of them executed.
func (cg *CompiledGraph) OutputNodeCount() int {
	n := 0
	for _, node := range cg.Nodes {
		if node.Type == schema.NodeKindOutput {
			n++
		}
	}
	return n
}
