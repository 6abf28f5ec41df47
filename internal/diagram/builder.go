package diagram

import (
	"fmt"

	"github.com/formlane/formlane/pkg/schema"
)

// Build constructs a Model from a workflow graph and an optional run trace.
// Levels follow breadth-first distance from the start node; nodes the
// traversal cannot reach end up in a trailing level so they still render.
func Build(title string, g *schema.Graph, trace []schema.TraceEntry) (*Model, error) {
	if g == nil || len(g.Nodes) == 0 {
		return nil, fmt.Errorf("diagram: empty graph")
	}

	byID := make(map[string]*schema.Node, len(g.Nodes))
	for i := range g.Nodes {
		byID[g.Nodes[i].ID] = &g.Nodes[i]
	}
	if _, ok := byID[g.StartNodeID]; !ok {
		return nil, fmt.Errorf("diagram: start node %q not found", g.StartNodeID)
	}

	entryByNode := make(map[string]*schema.TraceEntry, len(trace))
	for i := range trace {
		entryByNode[trace[i].NodeID] = &trace[i]
	}

	nodes := make([]*Node, 0, len(g.Nodes))
	nodeIndex := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		n := graphNode(&g.Nodes[i])
		overlayStatus(n, entryByNode[n.ID])
		nodes = append(nodes, n)
		nodeIndex[n.ID] = n
	}

	edges := make([]Edge, 0, len(g.Edges))
	outgoing := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		edges = append(edges, Edge{From: e.Source, To: e.Target, Label: e.Condition})
		outgoing[e.Source] = append(outgoing[e.Source], e.Target)
	}

	return &Model{
		Title:  title,
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(g.StartNodeID, g.Nodes, outgoing),
	}, nil
}

func graphNode(n *schema.Node) *Node {
	label := n.ID
	if n.Alias != "" {
		label = fmt.Sprintf("%s (%s)", n.ID, n.Alias)
	}
	return &Node{ID: n.ID, Label: label, Kind: n.Type}
}

func overlayStatus(n *Node, entry *schema.TraceEntry) {
	if entry == nil {
		return
	}
	errStr := ""
	if entry.Error != nil {
		errStr = entry.Error.Message
	}
	n.Status = &StatusOverlay{
		Status:     string(entry.Status),
		SkipReason: entry.SkipReason,
		DurationMs: entry.DurationMs,
		Error:      errStr,
	}
}

// buildLevels groups node ids by BFS depth from the start node. Unreachable
// nodes are appended as one final level, in definition order.
func buildLevels(start string, defs []schema.Node, outgoing map[string][]string) [][]string {
	depth := map[string]int{start: 0}
	queue := []string{start}
	maxDepth := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range outgoing[id] {
			if _, seen := depth[next]; seen {
				continue
			}
			depth[next] = depth[id] + 1
			if depth[next] > maxDepth {
				maxDepth = depth[next]
			}
			queue = append(queue, next)
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, def := range defs {
		if d, ok := depth[def.ID]; ok {
			levels[d] = append(levels[d], def.ID)
		}
	}

	var unreachable []string
	for _, def := range defs {
		if _, ok := depth[def.ID]; !ok {
			unreachable = append(unreachable, def.ID)
		}
	}
	if len(unreachable) > 0 {
		levels = append(levels, unreachable)
	}
	return levels
}
