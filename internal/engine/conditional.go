package engine

import (
	"context"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/pkg/schema"
)

// conditionalExecutor evaluates a CEL expression and publishes the boolean
// result as a variable. Branching itself happens on edge conditions, which
// typically reference this node's output.
type conditionalExecutor struct {
	conditions *expressions.CELEngine
}

func (x *conditionalExecutor) Kind() schema.NodeKind {
	return schema.NodeKindConditional
}

func (x *conditionalExecutor) Execute(ctx context.Context, node *schema.Node, ec *Context) *Result {
	var cfg schema.ConditionalConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return failed(node, err)
	}
	if cfg.Expression == "" {
		return failed(node, schema.NewError(schema.ErrCodeValidation, "conditional node has no expression"))
	}

	result, err := x.conditions.EvaluateBool(ctx, cfg.Expression, ec.Env())
	if err != nil {
		if engErr, ok := err.(*schema.EngineError); ok {
			return failed(node, engErr)
		}
		return failed(node, schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err))
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = node.ID
	}
	return executed(map[string]any{outputKey: result})
}
