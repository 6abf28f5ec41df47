package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/pkg/schema"
)

func newWriteExecutor(repo *fakeRepo) *writeExecutor {
	return &writeExecutor{repo: repo, values: expressions.NewExprEngine()}
}

func newRunContext(mode schema.ExecutionMode) *Context {
	return NewContext("run-test", "", mode, nil, nil)
}

// The ledger guarantees at-most-once per run: a write node re-visited with
// identical resolved inputs must not repeat its mutation.
func TestWriteIdempotencyWithinRun(t *testing.T) {
	repo := newFakeRepo()
	x := newWriteExecutor(repo)
	ec := newRunContext(schema.ModeLive)
	ctx := context.Background()

	node := &schema.Node{ID: "w", Type: schema.NodeKindWrite, Config: []byte(
		`{"table_id":"contacts","operation":"create","data":{"name":"\"Test\""}}`)}

	first := x.Execute(ctx, node, ec)
	require.Equal(t, schema.NodeExecuted, first.Status)
	assert.Equal(t, 1, repo.createCalls)

	second := x.Execute(ctx, node, ec)
	assert.Equal(t, schema.NodeSkipped, second.Status)
	assert.Equal(t, schema.SkipReasonIdempotency, second.SkipReason)
	assert.Equal(t, 1, repo.createCalls, "re-visit must not repeat the mutation")
}

// The ledger key covers the target row: the same node against a different
// row is a distinct effect and must apply.
func TestWriteIdempotencyKeyedByRow(t *testing.T) {
	repo := newFakeRepo()
	rowA := repo.seed("contacts", map[string]any{"tier": "basic"})
	rowB := repo.seed("contacts", map[string]any{"tier": "basic"})
	x := newWriteExecutor(repo)
	ec := newRunContext(schema.ModeLive)
	ec.Vars["target"] = rowA.ID
	ctx := context.Background()

	node := &schema.Node{ID: "w", Type: schema.NodeKindWrite, Config: []byte(
		`{"table_id":"contacts","operation":"update","row_id":"target","data":{"tier":"\"pro\""}}`)}

	first := x.Execute(ctx, node, ec)
	require.Equal(t, schema.NodeExecuted, first.Status)

	ec.Vars["target"] = rowB.ID
	second := x.Execute(ctx, node, ec)
	require.Equal(t, schema.NodeExecuted, second.Status)
	assert.Equal(t, 2, repo.updateCalls)
}

// A fresh run starts with a clean ledger.
func TestIdempotencyLedgerIsPerRun(t *testing.T) {
	repo := newFakeRepo()
	x := newWriteExecutor(repo)
	ctx := context.Background()

	node := &schema.Node{ID: "w", Type: schema.NodeKindWrite, Config: []byte(
		`{"table_id":"contacts","operation":"create","data":{"name":"\"Test\""}}`)}

	first := x.Execute(ctx, node, newRunContext(schema.ModeLive))
	require.Equal(t, schema.NodeExecuted, first.Status)
	second := x.Execute(ctx, node, newRunContext(schema.ModeLive))
	require.Equal(t, schema.NodeExecuted, second.Status)
	assert.Equal(t, 2, repo.createCalls)
}

func TestWriteUpdateRequiresRowID(t *testing.T) {
	repo := newFakeRepo()
	x := newWriteExecutor(repo)
	ec := newRunContext(schema.ModeLive)

	node := &schema.Node{ID: "w", Type: schema.NodeKindWrite, Config: []byte(
		`{"table_id":"contacts","operation":"update","data":{"tier":"\"pro\""}}`)}

	res := x.Execute(context.Background(), node, ec)
	require.Equal(t, schema.NodeFailed, res.Status)
	assert.Equal(t, schema.ErrCodeValidation, res.Err.Code)
}

func TestWriteRowIDResolvingToNilFails(t *testing.T) {
	repo := newFakeRepo()
	x := newWriteExecutor(repo)
	ec := newRunContext(schema.ModeLive)

	node := &schema.Node{ID: "w", Type: schema.NodeKindWrite, Config: []byte(
		`{"table_id":"contacts","operation":"delete","row_id":"neverSet"}`)}

	res := x.Execute(context.Background(), node, ec)
	require.Equal(t, schema.NodeFailed, res.Status)
	assert.Equal(t, schema.ErrCodeValidation, res.Err.Code)
}

func TestTransformMemoizedWithinRun(t *testing.T) {
	runner := newTestRunner(t, newFakeRepo())
	x := runner.executors[schema.NodeKindTransform]
	ec := newRunContext(schema.ModePreview)
	ec.Vars["n"] = 21
	ctx := context.Background()

	node := &schema.Node{ID: "t", Type: schema.NodeKindTransform, Config: []byte(
		`{"script":".n * 2","input_keys":["n"],"output_key":"doubled"}`)}

	first := x.Execute(ctx, node, ec)
	require.Equal(t, schema.NodeExecuted, first.Status)
	assert.Empty(t, first.SkipReason)
	assert.Equal(t, float64(42), first.OutputsDelta["doubled"])
	ec.MergeOutputs(first.OutputsDelta)

	second := x.Execute(ctx, node, ec)
	require.Equal(t, schema.NodeExecuted, second.Status)
	assert.Equal(t, schema.SkipReasonCached, second.SkipReason)
	assert.Equal(t, float64(42), second.OutputsDelta["doubled"])
}

func TestTransformTimeoutSurfacesAsNodeFailure(t *testing.T) {
	runner := newTestRunner(t, newFakeRepo())
	x := runner.executors[schema.NodeKindTransform]
	ec := newRunContext(schema.ModePreview)
	ec.Vars["seed"] = 0

	node := &schema.Node{ID: "t", Type: schema.NodeKindTransform, Config: []byte(
		`{"script":"0 | until(. < 0; . + 1)","timeout_ms":100}`)}

	res := x.Execute(context.Background(), node, ec)
	require.Equal(t, schema.NodeFailed, res.Status)
	assert.Equal(t, schema.ErrCodeScriptTimeout, res.Err.Code)
}

func TestValidateForEach(t *testing.T) {
	runner := newTestRunner(t, newFakeRepo())
	x := runner.executors[schema.NodeKindValidate]
	ec := newRunContext(schema.ModePreview)
	ec.Vars["items"] = []any{
		map[string]any{"qty": 2},
		map[string]any{"qty": 0},
	}

	node := &schema.Node{ID: "v", Type: schema.NodeKindValidate, Config: []byte(
		`{"rules":[{"field":"items","rule":"for_each","for_each":[
			{"field":"qty","rule":"gt","value":"0","message":"quantity must be positive"}
		]}],"output_key":"validation"}`)}

	res := x.Execute(context.Background(), node, ec)
	require.Equal(t, schema.NodeExecuted, res.Status)

	validation := res.OutputsDelta["validation"].(map[string]any)
	assert.Equal(t, false, validation["success"])
	fieldErrors := validation["field_errors"].(map[string]any)
	assert.Contains(t, fieldErrors, "items[1].qty")
	assert.NotContains(t, fieldErrors, "items[0].qty")
}

func TestValidateUnknownRuleFailsNode(t *testing.T) {
	runner := newTestRunner(t, newFakeRepo())
	x := runner.executors[schema.NodeKindValidate]
	ec := newRunContext(schema.ModePreview)
	ec.Vars["v"] = 1

	node := &schema.Node{ID: "v", Type: schema.NodeKindValidate, Config: []byte(
		`{"rules":[{"field":"v","rule":"matches_regex","value":"\".*\""}]}`)}

	res := x.Execute(context.Background(), node, ec)
	require.Equal(t, schema.NodeFailed, res.Status)
	assert.Equal(t, schema.ErrCodeValidation, res.Err.Code)
}

func TestConditionalPublishesBool(t *testing.T) {
	runner := newTestRunner(t, newFakeRepo())
	x := runner.executors[schema.NodeKindConditional]
	ec := newRunContext(schema.ModePreview)
	ec.Vars["score"] = 80

	node := &schema.Node{ID: "c", Type: schema.NodeKindConditional, Config: []byte(
		`{"expression":"vars.score >= 50","output_key":"passed"}`)}

	res := x.Execute(context.Background(), node, ec)
	require.Equal(t, schema.NodeExecuted, res.Status)
	assert.Equal(t, true, res.OutputsDelta["passed"])
}

func TestMissingConfigFailsNode(t *testing.T) {
	runner := newTestRunner(t, newFakeRepo())
	ec := newRunContext(schema.ModePreview)
	ctx := context.Background()

	for _, kind := range []schema.NodeKind{
		schema.NodeKindQuery,
		schema.NodeKindWrite,
		schema.NodeKindValidate,
		schema.NodeKindTransform,
		schema.NodeKindConditional,
		schema.NodeKindOutput,
	} {
		t.Run(string(kind), func(t *testing.T) {
			node := &schema.Node{ID: "n", Type: kind}
			res := runner.executors[kind].Execute(ctx, node, ec)
			require.Equal(t, schema.NodeFailed, res.Status)
			assert.Equal(t, schema.ErrCodeValidation, res.Err.Code)
		})
	}
}
