package engine

import (
	"context"
	"time"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/internal/script"
	"github.com/formlane/formlane/pkg/schema"
)

// transformExecutor runs a sandboxed script against selected variables.
// Results are memoized per run under a key derived from the script text and
// the resolved input values: the same script over the same inputs is assumed
// deterministic, so a re-visit costs nothing.
type transformExecutor struct {
	sandbox script.Sandbox
}

func (x *transformExecutor) Kind() schema.NodeKind {
	return schema.NodeKindTransform
}

func (x *transformExecutor) Execute(ctx context.Context, node *schema.Node, ec *Context) *Result {
	var cfg schema.TransformConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return failed(node, err)
	}
	if cfg.Script == "" {
		return failed(node, schema.NewError(schema.ErrCodeValidation, "transform node has no script"))
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = node.ID
	}

	key := CacheKey("script", cfg.Script, x.selectedInputs(cfg.InputKeys, outputKey, ec))
	if cached, ok := ec.CachedScript(key); ok {
		res := executed(map[string]any{outputKey: cached})
		res.SkipReason = schema.SkipReasonCached
		return res
	}

	start := time.Now()
	out := x.sandbox.Run(ctx, script.Request{
		Code:      cfg.Script,
		InputKeys: cfg.InputKeys,
		Data:      ec.Vars,
		AliasMap:  ec.AliasMap,
		TimeoutMs: cfg.TimeoutMs,
	})
	ec.ObserveScript(time.Since(start))

	if !out.OK {
		return failed(node, out.Error)
	}

	ec.StoreScriptResult(key, out.Output)
	return executed(map[string]any{outputKey: out.Output})
}

// selectedInputs resolves the variables the script will see, for cache
// keying. Empty input keys means the whole variable map participates, minus
// the node's own output so a re-visit keys identically.
func (x *transformExecutor) selectedInputs(inputKeys []string, outputKey string, ec *Context) map[string]any {
	if len(inputKeys) == 0 {
		all := make(map[string]any, len(ec.Vars))
		for k, v := range ec.Vars {
			if k == outputKey {
				continue
			}
			all[k] = v
		}
		return all
	}
	selected := make(map[string]any, len(inputKeys))
	for _, key := range inputKeys {
		id := expressions.CanonicalKey(key, ec.AliasMap)
		if v, ok := ec.Vars[id]; ok {
			selected[id] = v
		}
	}
	return selected
}
