// Package script provides the sandboxed runtime for transform nodes.
// Programs get no filesystem, network, or environment access.
package script

import (
	"context"
	"time"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/pkg/schema"
)

// Timeout bounds for a single script execution. Configured budgets outside
// this window are clamped.
const (
	MinTimeoutMs     = 100
	MaxTimeoutMs     = 3000
	DefaultTimeoutMs = 1000
)

// Request describes one script execution.
type Request struct {
	Code      string
	InputKeys []string          // variables exposed to the script; empty means all of Data
	Data      map[string]any    // resolved variables, keyed by canonical id
	AliasMap  map[string]string // alias -> canonical id; nil means aliases silently miss
	TimeoutMs int
}

// Result is the outcome of one script execution.
type Result struct {
	OK     bool
	Output any
	Error  *schema.EngineError
}

// Sandbox runs user-authored scripts with a bounded time budget.
type Sandbox interface {
	Run(ctx context.Context, req Request) Result
}

// JQSandbox executes jq programs via the shared GoJQ engine. The program's
// input object carries the selected variables under their canonical ids,
// with alias keys mirrored on top when an alias map is supplied.
type JQSandbox struct {
	engine *expressions.GoJQEngine
}

// NewJQSandbox creates a sandbox backed by the given engine.
func NewJQSandbox(engine *expressions.GoJQEngine) *JQSandbox {
	return &JQSandbox{engine: engine}
}

// Run executes the program and returns its output. A deadline overrun is
// reported as a SCRIPT_TIMEOUT error, never a hang.
func (s *JQSandbox) Run(ctx context.Context, req Request) Result {
	budget := ClampTimeout(req.TimeoutMs)
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(budget)*time.Millisecond)
	defer cancel()

	input := buildInput(req)

	out, err := s.engine.Evaluate(runCtx, req.Code, input)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{Error: schema.NewErrorf(schema.ErrCodeScriptTimeout,
				"script exceeded %dms budget", budget).WithCause(runCtx.Err())}
		}
		if engErr, ok := err.(*schema.EngineError); ok {
			return Result{Error: engErr}
		}
		return Result{Error: schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err)}
	}
	return Result{OK: true, Output: out}
}

// ClampTimeout normalizes a configured budget into the allowed window.
func ClampTimeout(ms int) int {
	switch {
	case ms <= 0:
		return DefaultTimeoutMs
	case ms < MinTimeoutMs:
		return MinTimeoutMs
	case ms > MaxTimeoutMs:
		return MaxTimeoutMs
	default:
		return ms
	}
}

// buildInput selects the requested variables and overlays alias keys.
func buildInput(req Request) map[string]any {
	data := req.Data
	if len(req.InputKeys) > 0 {
		data = make(map[string]any, len(req.InputKeys))
		for _, key := range req.InputKeys {
			id := expressions.CanonicalKey(key, req.AliasMap)
			if v, ok := req.Data[id]; ok {
				data[id] = v
			}
		}
	}
	return expressions.OverlayAliases(data, req.AliasMap)
}

var _ Sandbox = (*JQSandbox)(nil)
