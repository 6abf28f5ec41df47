package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/pkg/schema"
)

// Context is the per-run execution state. Every run gets a fresh instance;
// nothing in here outlives the run, so concurrent runs never share caches,
// idempotency ledgers, or shadow writes. Not safe for concurrent use — a run
// executes its nodes sequentially.
type Context struct {
	RunID    string
	TenantID string
	Mode     schema.ExecutionMode

	// Vars is the variable map, keyed by canonical id (node IDs and input
	// field keys). AliasMap redirects alias lookups; see expressions.Resolve.
	Vars     map[string]any
	AliasMap map[string]string

	// Input is the raw invocation payload, consumed by input nodes.
	Input map[string]any

	// Outputs accumulates what output nodes surface as the run result.
	Outputs map[string]any

	queryCache  map[string]any
	scriptCache map[string]any
	effects     map[string]struct{}
	shadow      *ShadowOverlay

	Metrics schema.Metrics
}

// NewContext creates the execution state for one run.
func NewContext(runID, tenantID string, mode schema.ExecutionMode, input map[string]any, aliasMap map[string]string) *Context {
	return &Context{
		RunID:       runID,
		TenantID:    tenantID,
		Mode:        mode,
		Vars:        make(map[string]any),
		AliasMap:    aliasMap,
		Input:       input,
		Outputs:     make(map[string]any),
		queryCache:  make(map[string]any),
		scriptCache: make(map[string]any),
		effects:     make(map[string]struct{}),
		shadow:      NewShadowOverlay(),
	}
}

// Preview reports whether side effects must be held in the shadow overlay
// instead of reaching the repository.
func (c *Context) Preview() bool {
	return c.Mode == schema.ModePreview
}

// Env builds the expression environment: the variable map with every known
// alias mirrored onto its canonical value. Rebuilt per evaluation because
// node outputs land between evaluations.
func (c *Context) Env() map[string]any {
	return expressions.OverlayAliases(c.Vars, c.AliasMap)
}

// Resolve looks up a variable by canonical id or alias. Misses return nil.
func (c *Context) Resolve(key string) any {
	return expressions.Resolve(key, c.Vars, c.AliasMap)
}

// MergeOutputs folds a node's output delta into the variable map.
func (c *Context) MergeOutputs(delta map[string]any) {
	for k, v := range delta {
		c.Vars[k] = v
	}
}

// CachedQuery returns a memoized query result for the given key.
func (c *Context) CachedQuery(key string) (any, bool) {
	v, ok := c.queryCache[key]
	return v, ok
}

// StoreQueryResult memoizes a query result for the remainder of the run.
func (c *Context) StoreQueryResult(key string, v any) {
	c.queryCache[key] = v
}

// CachedScript returns a memoized script result for the given key.
func (c *Context) CachedScript(key string) (any, bool) {
	v, ok := c.scriptCache[key]
	return v, ok
}

// StoreScriptResult memoizes a script result for the remainder of the run.
func (c *Context) StoreScriptResult(key string, v any) {
	c.scriptCache[key] = v
}

// EffectApplied reports whether the idempotency ledger already holds the key.
func (c *Context) EffectApplied(key string) bool {
	_, ok := c.effects[key]
	return ok
}

// MarkEffect records a write in the idempotency ledger. The ledger is per-run:
// re-visiting a write node through a converging path must not repeat the
// mutation, but a new run starts clean.
func (c *Context) MarkEffect(key string) {
	c.effects[key] = struct{}{}
}

// Shadow returns the run's in-memory write overlay.
func (c *Context) Shadow() *ShadowOverlay {
	return c.shadow
}

// ObserveDB adds one repository round trip to the run metrics.
func (c *Context) ObserveDB(d time.Duration) {
	c.Metrics.DBTimeMs += d.Milliseconds()
}

// ObserveScript adds one sandbox execution to the run metrics.
func (c *Context) ObserveScript(d time.Duration) {
	c.Metrics.JSTimeMs += d.Milliseconds()
}

// CountQuery increments the per-run query counter.
func (c *Context) CountQuery() {
	c.Metrics.QueryCount++
}

// CacheKey builds a deterministic key from structured parts. json.Marshal
// sorts map keys, so identical resolved inputs always produce identical keys
// regardless of construction order.
func CacheKey(parts ...any) string {
	b, err := json.Marshal(parts)
	if err != nil {
		// Unmarshalable values (channels, funcs) never appear in resolved
		// node inputs; fall back to a formatted rendering just in case.
		return fmt.Sprintf("%v", parts)
	}
	return string(b)
}
