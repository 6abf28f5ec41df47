package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/formlane/formlane/pkg/schema"
)

// Map iteration order must not leak into cache keys: identical resolved
// inputs key identically regardless of construction order.
func TestCacheKeyDeterministic(t *testing.T) {
	a := CacheKey("query", "contacts", map[string]any{"x": 1, "y": "two", "z": true}, 10)
	b := CacheKey("query", "contacts", map[string]any{"z": true, "y": "two", "x": 1}, 10)
	assert.Equal(t, a, b)

	c := CacheKey("query", "contacts", map[string]any{"x": 2, "y": "two", "z": true}, 10)
	assert.NotEqual(t, a, c)
}

func TestCacheKeyDiscriminatesParts(t *testing.T) {
	assert.NotEqual(t, CacheKey("query", "t1", nil, 0), CacheKey("query", "t2", nil, 0))
	assert.NotEqual(t, CacheKey("query", "t1", nil, 0), CacheKey("script", "t1", nil, 0))
	assert.NotEqual(t, CacheKey("query", "t1", nil, 5), CacheKey("query", "t1", nil, 10))
}

func TestContextEnvOverlaysAliases(t *testing.T) {
	ec := NewContext("run-1", "", schema.ModePreview, nil, map[string]string{
		"answer": "node-1",
	})
	ec.MergeOutputs(map[string]any{"node-1": 42})

	env := ec.Env()
	assert.Equal(t, 42, env["node-1"])
	assert.Equal(t, 42, env["answer"])

	// The overlay is derived, not stored: Vars keeps canonical keys only.
	_, ok := ec.Vars["answer"]
	assert.False(t, ok)
}

func TestContextResolve(t *testing.T) {
	ec := NewContext("run-1", "", schema.ModeLive, nil, map[string]string{
		"answer": "node-1",
	})
	ec.Vars["node-1"] = "v"

	assert.Equal(t, "v", ec.Resolve("node-1"))
	assert.Equal(t, "v", ec.Resolve("answer"))
	assert.Nil(t, ec.Resolve("missing"))
}

func TestContextCachesAreIndependent(t *testing.T) {
	ec := newRunContext(schema.ModePreview)

	ec.StoreQueryResult("k", "query-value")
	ec.StoreScriptResult("k", "script-value")

	q, ok := ec.CachedQuery("k")
	assert.True(t, ok)
	assert.Equal(t, "query-value", q)

	s, ok := ec.CachedScript("k")
	assert.True(t, ok)
	assert.Equal(t, "script-value", s)
}

func TestContextEffectLedger(t *testing.T) {
	ec := newRunContext(schema.ModeLive)

	assert.False(t, ec.EffectApplied("k"))
	ec.MarkEffect("k")
	assert.True(t, ec.EffectApplied("k"))
	assert.False(t, ec.EffectApplied("other"))
}

func TestContextPreview(t *testing.T) {
	assert.True(t, newRunContext(schema.ModePreview).Preview())
	assert.False(t, newRunContext(schema.ModeLive).Preview())
}
