package engine

import (
	"context"

	"github.com/formlane/formlane/pkg/schema"
)

// inputExecutor seeds the variable map from the run's invocation payload.
type inputExecutor struct{}

func (x *inputExecutor) Kind() schema.NodeKind {
	return schema.NodeKindInput
}

func (x *inputExecutor) Execute(ctx context.Context, node *schema.Node, ec *Context) *Result {
	// With no config the whole payload passes through under its own keys.
	if len(node.Config) == 0 {
		delta := make(map[string]any, len(ec.Input))
		for k, v := range ec.Input {
			delta[k] = v
		}
		return executed(delta)
	}

	var cfg schema.InputConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return failed(node, err)
	}

	delta := make(map[string]any, len(cfg.Fields))
	for _, field := range cfg.Fields {
		v, ok := ec.Input[field.Key]
		if !ok || v == nil {
			if field.Required {
				return failed(node, schema.NewErrorf(schema.ErrCodeValidation,
					"required input %q is missing", field.Key))
			}
			v = field.Default
		}
		delta[field.Key] = v
	}
	return executed(delta)
}
