package validation

import (
	"encoding/json"
	"fmt"

	"github.com/formlane/formlane/pkg/schema"
)

var assertRuleNames = map[string]bool{
	"non_empty":  true,
	"equals":     true,
	"not_equals": true,
	"gt":         true,
	"gte":        true,
	"lt":         true,
	"lte":        true,
	"for_each":   true,
}

// checkSemantics layers the rules JSON Schema cannot express: id and alias
// uniqueness, edge reference integrity, per-kind config decoding, and
// reachability from the start node.
func checkSemantics(g *schema.Graph, report *Report) {
	ids := make(map[string]bool, len(g.Nodes))
	aliases := make(map[string]string)

	for i, node := range g.Nodes {
		path := fmt.Sprintf("/nodes/%d", i)
		if ids[node.ID] {
			report.addError(path, "duplicate node id %q", node.ID)
		}
		ids[node.ID] = true

		if node.Alias != "" {
			if prev, dup := aliases[node.Alias]; dup {
				report.addError(path, "alias %q already used by node %q", node.Alias, prev)
			}
			aliases[node.Alias] = node.ID
		}

		checkConfig(&g.Nodes[i], path, report)
	}

	if g.StartNodeID != "" && !ids[g.StartNodeID] {
		report.addError("/start_node_id", "start node %q not found", g.StartNodeID)
	}

	for i, edge := range g.Edges {
		path := fmt.Sprintf("/edges/%d", i)
		if !ids[edge.Source] {
			report.addError(path, "edge source %q not found", edge.Source)
		}
		if !ids[edge.Target] {
			report.addError(path, "edge target %q not found", edge.Target)
		}
	}

	if report.Valid() {
		checkReachability(g, report)
	}
}

// checkConfig decodes and sanity-checks the kind-specific config block.
func checkConfig(node *schema.Node, path string, report *Report) {
	switch node.Type {
	case schema.NodeKindInput:
		// Config is optional: no config means the whole payload passes through.
		if len(node.Config) == 0 {
			return
		}
		var cfg schema.InputConfig
		if !decode(node, &cfg, path, report) {
			return
		}
		for j, field := range cfg.Fields {
			if field.Key == "" {
				report.addError(fmt.Sprintf("%s/config/fields/%d", path, j), "input field has no key")
			}
		}
	case schema.NodeKindQuery:
		var cfg schema.QueryConfig
		if !decode(node, &cfg, path, report) {
			return
		}
		if cfg.TableID == "" {
			report.addError(path+"/config", "query node has no table_id")
		}
		for j, f := range cfg.Filters {
			if f.Column == "" {
				report.addError(fmt.Sprintf("%s/config/filters/%d", path, j), "filter has no column")
			}
			if f.Value == "" {
				report.addError(fmt.Sprintf("%s/config/filters/%d", path, j), "filter has no value expression")
			}
		}
	case schema.NodeKindWrite:
		var cfg schema.WriteConfig
		if !decode(node, &cfg, path, report) {
			return
		}
		if cfg.TableID == "" {
			report.addError(path+"/config", "write node has no table_id")
		}
		switch cfg.Operation {
		case schema.WriteCreate:
			if len(cfg.Data) == 0 {
				report.addWarning(path+"/config", "create writes an empty row")
			}
		case schema.WriteUpdate, schema.WriteDelete:
			if cfg.RowID == "" {
				report.addError(path+"/config", "%s requires a row_id expression", cfg.Operation)
			}
		default:
			report.addError(path+"/config", "unknown write operation %q", cfg.Operation)
		}
	case schema.NodeKindValidate:
		var cfg schema.ValidateConfig
		if !decode(node, &cfg, path, report) {
			return
		}
		if len(cfg.Rules) == 0 {
			report.addWarning(path+"/config", "validate node has no rules")
		}
		for j, rule := range cfg.Rules {
			checkRule(rule, fmt.Sprintf("%s/config/rules/%d", path, j), report)
		}
	case schema.NodeKindTransform:
		var cfg schema.TransformConfig
		if !decode(node, &cfg, path, report) {
			return
		}
		if cfg.Script == "" {
			report.addError(path+"/config", "transform node has no script")
		}
	case schema.NodeKindConditional:
		var cfg schema.ConditionalConfig
		if !decode(node, &cfg, path, report) {
			return
		}
		if cfg.Expression == "" {
			report.addError(path+"/config", "conditional node has no expression")
		}
	case schema.NodeKindOutput:
		var cfg schema.OutputConfig
		if !decode(node, &cfg, path, report) {
			return
		}
		if len(cfg.Keys) == 0 {
			report.addWarning(path+"/config", "output node surfaces no keys")
		}
	}
}

func checkRule(rule schema.AssertRule, path string, report *Report) {
	if rule.Field == "" {
		report.addError(path, "rule has no field")
	}
	if !assertRuleNames[rule.Rule] {
		report.addError(path, "unknown rule %q", rule.Rule)
		return
	}
	if rule.Rule == "for_each" {
		if len(rule.ForEach) == 0 {
			report.addWarning(path, "for_each has no nested rules")
		}
		for j, nested := range rule.ForEach {
			checkRule(nested, fmt.Sprintf("%s/for_each/%d", path, j), report)
		}
		return
	}
	if rule.Rule != "non_empty" && rule.Value == "" {
		report.addError(path, "rule %q has no value expression", rule.Rule)
	}
}

func decode(node *schema.Node, out any, path string, report *Report) bool {
	if len(node.Config) == 0 {
		report.addError(path, "%s node has no config", node.Type)
		return false
	}
	if err := json.Unmarshal(node.Config, out); err != nil {
		report.addError(path+"/config", "invalid %s config: %s", node.Type, err.Error())
		return false
	}
	return true
}

// checkReachability walks forward from the start node and warns about nodes
// no traversal can reach. Unreachable nodes are legal but almost always a
// builder mistake. Cycles are flagged too: a node executes at most once per
// run, so a cycle silently behaves as a one-shot.
func checkReachability(g *schema.Graph, report *Report) {
	outgoing := make(map[string][]string)
	for _, e := range g.Edges {
		outgoing[e.Source] = append(outgoing[e.Source], e.Target)
	}

	reachable := map[string]bool{g.StartNodeID: true}
	queue := []string{g.StartNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, target := range outgoing[id] {
			if reachable[target] {
				continue
			}
			reachable[target] = true
			queue = append(queue, target)
		}
	}

	for i, node := range g.Nodes {
		if !reachable[node.ID] {
			report.addWarning(fmt.Sprintf("/nodes/%d", i),
				"node %q is unreachable from the start node", node.ID)
		}
	}
	if hasCycle(g.StartNodeID, outgoing) {
		report.addWarning("/edges", "graph contains a cycle; each node still executes at most once per run")
	}
}

// hasCycle runs a colored DFS from the start node.
func hasCycle(start string, outgoing map[string][]string) bool {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, target := range outgoing[id] {
			switch color[target] {
			case gray:
				return true
			case white:
				if visit(target) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	return visit(start)
}
