package engine

import (
	"context"

	"github.com/formlane/formlane/pkg/schema"
)

// outputExecutor projects selected variables into the run's result. Keys may
// be canonical ids or aliases; outputs keep the requested key so callers see
// the name they asked for. A key that resolves to nothing surfaces as nil
// rather than erroring, per the resolution contract.
type outputExecutor struct{}

func (x *outputExecutor) Kind() schema.NodeKind {
	return schema.NodeKindOutput
}

func (x *outputExecutor) Execute(ctx context.Context, node *schema.Node, ec *Context) *Result {
	var cfg schema.OutputConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return failed(node, err)
	}

	delta := make(map[string]any, len(cfg.Keys))
	for _, key := range cfg.Keys {
		v := ec.Resolve(key)
		delta[key] = v
		ec.Outputs[key] = v
	}
	return executed(delta)
}
