package schema

import "encoding/json"

// Graph is the JSON-serializable execution graph of a published workflow
// version. It is read-only input to the runner: once a version is published
// its graph never changes.
type Graph struct {
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
	StartNodeID string `json:"start_node_id"`
}

// Node is a unit of work in the execution graph.
type Node struct {
	ID     string          `json:"id"`
	Type   NodeKind        `json:"type"`
	Alias  string          `json:"alias,omitempty"`  // human-readable identifier, distinct from ID
	Config json.RawMessage `json:"config,omitempty"` // kind-specific config
}

// Edge connects two nodes. It is traversed only if Condition is absent or
// evaluates truthy against the current variables.
type Edge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"` // CEL expression
}

// NodeKind enumerates the kinds of nodes in a graph.
type NodeKind string

const (
	NodeKindInput       NodeKind = "input"
	NodeKindQuery       NodeKind = "query"
	NodeKindWrite       NodeKind = "write"
	NodeKindValidate    NodeKind = "validate"
	NodeKindTransform   NodeKind = "transform"
	NodeKindConditional NodeKind = "conditional"
	NodeKindOutput      NodeKind = "output"
)

// ExecutionMode selects whether a run persists side effects.
// Set once at run start, never mutated mid-run.
type ExecutionMode string

const (
	ModeLive    ExecutionMode = "live"
	ModePreview ExecutionMode = "preview"
)

// WriteOperation enumerates the mutations a write node can perform.
type WriteOperation string

const (
	WriteCreate WriteOperation = "create"
	WriteUpdate WriteOperation = "update"
	WriteDelete WriteOperation = "delete"
)

// InputConfig is the config block for input nodes.
type InputConfig struct {
	Fields []InputField `json:"fields"`
}

// InputField maps one key of the run's input JSON into the variable map.
type InputField struct {
	Key      string `json:"key"` // canonical variable id
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// QueryConfig is the config block for query nodes.
type QueryConfig struct {
	TableID   string   `json:"table_id"`
	Filters   []Filter `json:"filters,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	OutputKey string   `json:"output_key,omitempty"` // defaults to the node ID
}

// Filter is one data-driven query predicate. Value is an expression
// evaluated against current variables before the repository is consulted.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op,omitempty"` // eq (default), neq, gt, gte, lt, lte, contains
	Value  string `json:"value"`
}

// WriteConfig is the config block for write nodes.
type WriteConfig struct {
	TableID   string            `json:"table_id"`
	Operation WriteOperation    `json:"operation"`
	RowID     string            `json:"row_id,omitempty"` // expression; required for update/delete
	Data      map[string]string `json:"data,omitempty"`   // column -> expression
	OutputKey string            `json:"output_key,omitempty"`
}

// ValidateConfig is the config block for validate nodes.
type ValidateConfig struct {
	Rules     []AssertRule `json:"rules"`
	OutputKey string       `json:"output_key,omitempty"`
}

// AssertRule is one assertion evaluated against resolved variables.
// Field may be a canonical id or an alias; reported field errors are keyed
// by the resolved canonical id.
type AssertRule struct {
	Field   string       `json:"field"`
	Rule    string       `json:"rule"` // non_empty, equals, not_equals, gt, gte, lt, lte, for_each
	Value   string       `json:"value,omitempty"`
	Message string       `json:"message,omitempty"`
	ForEach []AssertRule `json:"for_each,omitempty"` // nested rules, applied per element of a list variable
}

// ValidationResult is the typed output of a validate node.
type ValidationResult struct {
	Success     bool                `json:"success"`
	Errors      []string            `json:"errors,omitempty"`
	FieldErrors map[string][]string `json:"field_errors,omitempty"` // canonical id -> messages
}

// TransformConfig is the config block for transform (script) nodes.
type TransformConfig struct {
	Script    string   `json:"script"`               // jq program run in the sandbox
	InputKeys []string `json:"input_keys,omitempty"` // variables exposed to the script; empty means all
	OutputKey string   `json:"output_key,omitempty"`
	TimeoutMs int      `json:"timeout_ms,omitempty"`
}

// ConditionalConfig is the config block for conditional nodes. The node
// evaluates the expression and publishes the boolean result; branching
// itself happens on edge conditions.
type ConditionalConfig struct {
	Expression string `json:"expression"` // CEL expression
	OutputKey  string `json:"output_key,omitempty"`
}

// OutputConfig is the config block for output nodes. Keys may be canonical
// ids or aliases; aliases resolve through the run's alias map.
type OutputConfig struct {
	Keys []string `json:"keys"`
}
