package engine

import (
	"context"
	"encoding/json"

	"github.com/formlane/formlane/pkg/schema"
)

// Result is the outcome of executing one node. A failed result carries the
// error; whether the failure halts the branch or aborts the run is decided by
// the runner from the error code.
type Result struct {
	Status       schema.NodeStatus
	SkipReason   string
	OutputsDelta map[string]any
	SideEffects  []schema.SideEffect
	Err          *schema.EngineError
}

// NodeExecutor executes one kind of node. Implementations are stateless and
// safe for concurrent use; all per-run state lives in the Context.
type NodeExecutor interface {
	Kind() schema.NodeKind
	Execute(ctx context.Context, node *schema.Node, ec *Context) *Result
}

// executed builds a success result with the given output delta.
func executed(delta map[string]any) *Result {
	return &Result{Status: schema.NodeExecuted, OutputsDelta: delta}
}

// skipped builds a skip result. Skips are first-class outcomes: cached
// queries, idempotent re-visits, and unmet conditions all land here.
func skipped(reason string) *Result {
	return &Result{Status: schema.NodeSkipped, SkipReason: reason}
}

// failed builds a failure result, stamping the node id on the error.
func failed(node *schema.Node, err *schema.EngineError) *Result {
	if err.NodeID == "" {
		err = err.WithNode(node.ID)
	}
	return &Result{Status: schema.NodeFailed, Err: err}
}

// decodeConfig unmarshals a node's config block into the kind-specific type.
func decodeConfig(node *schema.Node, out any) *schema.EngineError {
	if len(node.Config) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"%s node has no config", node.Type).WithNode(node.ID)
	}
	if err := json.Unmarshal(node.Config, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid %s config: %s", node.Type, err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	return nil
}
