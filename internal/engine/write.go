package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/internal/store"
	"github.com/formlane/formlane/pkg/schema"
)

// writeExecutor mutates the tabular store. In live mode mutations go to the
// repository; in preview mode they land in the run's shadow overlay and are
// discarded with the run. Either way the write is recorded in the per-run
// idempotency ledger, so a node re-visited through a converging path applies
// its effect at most once.
type writeExecutor struct {
	repo   store.RowRepository
	values expressions.Engine
}

func (x *writeExecutor) Kind() schema.NodeKind {
	return schema.NodeKindWrite
}

func (x *writeExecutor) Execute(ctx context.Context, node *schema.Node, ec *Context) *Result {
	var cfg schema.WriteConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return failed(node, err)
	}

	env := ec.Env()
	data, err := x.resolveData(ctx, cfg.Data, env)
	if err != nil {
		return failed(node, err)
	}

	var rowID string
	if cfg.Operation == schema.WriteUpdate || cfg.Operation == schema.WriteDelete {
		rowID, err = x.resolveRowID(ctx, cfg.RowID, env)
		if err != nil {
			return failed(node, err)
		}
	}

	// The ledger key covers the target row for update/delete: the same node
	// re-visited against a different row is a distinct effect.
	key := CacheKey("effect", node.ID, cfg.Operation, rowID, data)
	if ec.EffectApplied(key) {
		return skipped(schema.SkipReasonIdempotency)
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = node.ID
	}

	var (
		out    map[string]any
		effect schema.SideEffect
	)
	if ec.Preview() {
		out, effect = x.applyShadow(cfg, rowID, data, ec)
	} else {
		out, effect, err = x.applyLive(ctx, cfg, rowID, data, ec)
		if err != nil {
			return failed(node, err)
		}
	}

	ec.MarkEffect(key)
	res := executed(map[string]any{outputKey: out})
	res.SideEffects = []schema.SideEffect{effect}
	return res
}

func (x *writeExecutor) applyShadow(cfg schema.WriteConfig, rowID string, data map[string]any, ec *Context) (map[string]any, schema.SideEffect) {
	effect := schema.SideEffect{
		Operation: cfg.Operation,
		TableID:   cfg.TableID,
		Values:    data,
		Shadow:    true,
	}
	switch cfg.Operation {
	case schema.WriteCreate:
		row := ec.Shadow().Create(cfg.TableID, data)
		effect.RowID = row.ID
		return flattenRow(row), effect
	case schema.WriteUpdate:
		ec.Shadow().Update(rowID, data)
		effect.RowID = rowID
		out := make(map[string]any, len(data)+1)
		for k, v := range data {
			out[k] = v
		}
		out["id"] = rowID
		return out, effect
	default: // delete
		ec.Shadow().Delete(rowID)
		effect.RowID = rowID
		effect.Values = nil
		return map[string]any{"id": rowID, "deleted": true}, effect
	}
}

func (x *writeExecutor) applyLive(ctx context.Context, cfg schema.WriteConfig, rowID string, data map[string]any, ec *Context) (map[string]any, schema.SideEffect, *schema.EngineError) {
	effect := schema.SideEffect{
		Operation: cfg.Operation,
		TableID:   cfg.TableID,
		Values:    data,
	}

	start := time.Now()
	defer func() { ec.ObserveDB(time.Since(start)) }()

	switch cfg.Operation {
	case schema.WriteCreate:
		row, err := x.repo.CreateRowWithValues(ctx, cfg.TableID, data)
		if err != nil {
			return nil, effect, repoError("create", cfg.TableID, err)
		}
		effect.RowID = row.ID
		return flattenRow(row), effect, nil
	case schema.WriteUpdate:
		row, err := x.repo.UpdateRowValues(ctx, rowID, data)
		if err != nil {
			return nil, effect, repoError("update", cfg.TableID, err)
		}
		effect.RowID = row.ID
		return flattenRow(row), effect, nil
	default: // delete
		if err := x.repo.DeleteRow(ctx, rowID); err != nil {
			return nil, effect, repoError("delete", cfg.TableID, err)
		}
		effect.RowID = rowID
		effect.Values = nil
		return map[string]any{"id": rowID, "deleted": true}, effect, nil
	}
}

func (x *writeExecutor) resolveData(ctx context.Context, data map[string]string, env map[string]any) (map[string]any, *schema.EngineError) {
	resolved := make(map[string]any, len(data))
	for column, expression := range data {
		v, err := x.values.Evaluate(ctx, expression, env)
		if err != nil {
			if engErr, ok := err.(*schema.EngineError); ok {
				return nil, engErr
			}
			return nil, schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err)
		}
		resolved[column] = v
	}
	return resolved, nil
}

func (x *writeExecutor) resolveRowID(ctx context.Context, expression string, env map[string]any) (string, *schema.EngineError) {
	if expression == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "write node requires row_id for update/delete")
	}
	v, err := x.values.Evaluate(ctx, expression, env)
	if err != nil {
		if engErr, ok := err.(*schema.EngineError); ok {
			return "", engErr
		}
		return "", schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err)
	}
	if v == nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"row_id expression %q resolved to nil", expression)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func repoError(op, tableID string, err error) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeRepository,
		"%s on table %q failed: %s", op, tableID, err.Error()).WithCause(err)
}
