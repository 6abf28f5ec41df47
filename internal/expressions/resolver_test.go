package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	vars := map[string]any{
		"node-uuid-1": "canonical value",
		"emailInput":  "a@b.c",
	}
	aliasMap := map[string]string{
		"userEmail": "node-uuid-1",
	}

	t.Run("canonical id wins", func(t *testing.T) {
		assert.Equal(t, "canonical value", Resolve("node-uuid-1", vars, aliasMap))
	})

	t.Run("alias redirects", func(t *testing.T) {
		assert.Equal(t, "canonical value", Resolve("userEmail", vars, aliasMap))
	})

	t.Run("canonical lookup precedes alias", func(t *testing.T) {
		// A key present in vars is returned as-is even if the alias map would
		// redirect it elsewhere.
		shadowed := map[string]string{"emailInput": "node-uuid-1"}
		assert.Equal(t, "a@b.c", Resolve("emailInput", vars, shadowed))
	})

	t.Run("unknown key misses silently", func(t *testing.T) {
		assert.Nil(t, Resolve("never-set", vars, aliasMap))
	})

	t.Run("alias to absent canonical is nil", func(t *testing.T) {
		dangling := map[string]string{"ghost": "no-such-node"}
		assert.Nil(t, Resolve("ghost", vars, dangling))
	})
}

// Callers that forget the alias map must get nils, not errors: deployed
// scripts probe optional variables and depend on the miss being silent.
func TestResolveWithoutAliasMap(t *testing.T) {
	vars := map[string]any{"node-uuid-1": "value"}

	assert.Equal(t, "value", Resolve("node-uuid-1", vars, nil))
	assert.Nil(t, Resolve("userEmail", vars, nil))
}

func TestCanonicalKey(t *testing.T) {
	aliasMap := map[string]string{"userEmail": "node-uuid-1"}

	assert.Equal(t, "node-uuid-1", CanonicalKey("userEmail", aliasMap))
	assert.Equal(t, "node-uuid-1", CanonicalKey("node-uuid-1", aliasMap))
	assert.Equal(t, "unknown", CanonicalKey("unknown", aliasMap))
	assert.Equal(t, "userEmail", CanonicalKey("userEmail", nil))
}

func TestOverlayAliases(t *testing.T) {
	vars := map[string]any{"node-uuid-1": 42}
	aliasMap := map[string]string{
		"answer":  "node-uuid-1",
		"dangler": "no-such-node",
	}

	env := OverlayAliases(vars, aliasMap)
	assert.Equal(t, 42, env["node-uuid-1"])
	assert.Equal(t, 42, env["answer"])
	_, ok := env["dangler"]
	assert.False(t, ok, "alias to an absent canonical must not materialize")

	// Input map is not mutated.
	_, ok = vars["answer"]
	assert.False(t, ok)
}

// The end-to-end shape of the miss contract: an expression referencing an
// alias evaluates to nil when no alias map was supplied, and to the canonical
// value once it is.
func TestAliasMissThroughExpressions(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()
	vars := map[string]any{"node-uuid-1": "hello"}
	aliasMap := map[string]string{"greeting": "node-uuid-1"}

	out, err := e.Evaluate(ctx, "greeting", OverlayAliases(vars, nil))
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = e.Evaluate(ctx, "greeting", OverlayAliases(vars, aliasMap))
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}
