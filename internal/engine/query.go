package engine

import (
	"context"
	"time"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/internal/store"
	"github.com/formlane/formlane/pkg/schema"
)

// queryExecutor reads rows from the tabular store. Filter values are
// expressions resolved against current variables before the repository is
// consulted; results are memoized per run under a key derived from the
// resolved filters, so re-visiting the same query with the same inputs costs
// nothing and reads consistently.
type queryExecutor struct {
	repo   store.RowRepository
	values expressions.Engine
}

func (x *queryExecutor) Kind() schema.NodeKind {
	return schema.NodeKindQuery
}

func (x *queryExecutor) Execute(ctx context.Context, node *schema.Node, ec *Context) *Result {
	var cfg schema.QueryConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return failed(node, err)
	}

	filters, err := x.resolveFilters(ctx, cfg.Filters, ec)
	if err != nil {
		return failed(node, err)
	}

	outputKey := cfg.OutputKey
	if outputKey == "" {
		outputKey = node.ID
	}

	key := CacheKey("query", cfg.TableID, filters, cfg.Limit)
	if cached, ok := ec.CachedQuery(key); ok {
		res := executed(map[string]any{outputKey: cached})
		res.SkipReason = schema.SkipReasonCached
		return res
	}

	start := time.Now()
	rows, repoErr := x.repo.GetRowsWithValues(ctx, cfg.TableID, filters, cfg.Limit)
	ec.ObserveDB(time.Since(start))
	ec.CountQuery()
	if repoErr != nil {
		return failed(node, schema.NewErrorf(schema.ErrCodeRepository,
			"query on table %q failed: %s", cfg.TableID, repoErr.Error()).WithCause(repoErr))
	}

	if ec.Preview() {
		rows = ec.Shadow().Apply(cfg.TableID, rows, filters, cfg.Limit)
	}

	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, flattenRow(row))
	}

	ec.StoreQueryResult(key, out)
	return executed(map[string]any{outputKey: out})
}

func (x *queryExecutor) resolveFilters(ctx context.Context, filters []schema.Filter, ec *Context) ([]store.RowFilter, *schema.EngineError) {
	if len(filters) == 0 {
		return nil, nil
	}
	env := ec.Env()
	resolved := make([]store.RowFilter, 0, len(filters))
	for _, f := range filters {
		v, err := x.values.Evaluate(ctx, f.Value, env)
		if err != nil {
			if engErr, ok := err.(*schema.EngineError); ok {
				return nil, engErr
			}
			return nil, schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err)
		}
		resolved = append(resolved, store.RowFilter{Column: f.Column, Op: f.Op, Value: v})
	}
	return resolved, nil
}

// flattenRow renders a row as the map shape scripts and expressions consume:
// column values at the top level plus the row id.
func flattenRow(row *store.Row) map[string]any {
	out := make(map[string]any, len(row.Values)+1)
	for k, v := range row.Values {
		out[k] = v
	}
	out["id"] = row.ID
	return out
}
