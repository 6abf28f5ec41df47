package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/formlane/formlane/internal/expressions"
	"github.com/formlane/formlane/internal/logging"
	"github.com/formlane/formlane/internal/script"
	"github.com/formlane/formlane/internal/store"
	"github.com/formlane/formlane/pkg/schema"
)

// Runner executes published graphs. It is safe for concurrent use: all
// per-run state lives in a Context created per invocation, and the shared
// expression engines only cache compiled programs.
type Runner struct {
	repo       store.RowRepository
	conditions *expressions.CELEngine
	executors  map[schema.NodeKind]NodeExecutor
	logger     *slog.Logger
}

// NewRunner wires the expression engines, the script sandbox, and one
// executor per node kind. A nil sandbox gets the default jq sandbox; a nil
// logger gets slog's default.
func NewRunner(repo store.RowRepository, sandbox script.Sandbox, logger *slog.Logger) (*Runner, error) {
	if repo == nil {
		return nil, fmt.Errorf("runner requires a row repository")
	}
	if sandbox == nil {
		sandbox = script.NewJQSandbox(expressions.NewGoJQEngine())
	}
	if logger == nil {
		logger = slog.Default()
	}

	values := expressions.NewExprEngine()
	conditions, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create condition engine: %w", err)
	}

	executors := map[schema.NodeKind]NodeExecutor{
		schema.NodeKindInput:       &inputExecutor{},
		schema.NodeKindQuery:       &queryExecutor{repo: repo, values: values},
		schema.NodeKindWrite:       &writeExecutor{repo: repo, values: values},
		schema.NodeKindValidate:    &validateExecutor{values: values},
		schema.NodeKindTransform:   &transformExecutor{sandbox: sandbox},
		schema.NodeKindConditional: &conditionalExecutor{conditions: conditions},
		schema.NodeKindOutput:      &outputExecutor{},
	}

	return &Runner{
		repo:       repo,
		conditions: conditions,
		executors:  executors,
		logger:     logger,
	}, nil
}

// RunRequest describes one graph invocation.
type RunRequest struct {
	Version  *store.WorkflowVersion
	Input    map[string]any
	TenantID string
	Mode     schema.ExecutionMode // defaults to live
	Debug    bool                 // include per-node output deltas in the trace
}

// RunResult is the outcome of one graph invocation.
type RunResult struct {
	RunID   string
	Status  schema.RunStatus
	Trace   []schema.TraceEntry
	Outputs map[string]any
	Metrics schema.Metrics
	Error   *schema.EngineError

	StartedAt   time.Time
	CompletedAt time.Time
}

// RunGraph executes a published version's graph. Breadth-first from the
// start node; each node is visited at most once; an edge with a condition is
// followed only when it evaluates truthy. A node failure halts its branch; a
// fatal error aborts the whole run. The returned error is non-nil only for
// caller mistakes — execution failures land in the result.
func (r *Runner) RunGraph(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Version == nil {
		return nil, fmt.Errorf("run request has no version")
	}
	mode := req.Mode
	if mode == "" {
		mode = schema.ModeLive
	}
	if mode != schema.ModeLive && mode != schema.ModePreview {
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}

	runID := uuid.NewString()
	result := &RunResult{
		RunID:     runID,
		Status:    schema.RunFailed,
		StartedAt: time.Now().UTC(),
	}
	runCtx := logging.WithRunID(ctx, runID)
	if req.TenantID != "" {
		runCtx = logging.WithTenantID(runCtx, req.TenantID)
	}
	logger := logging.LogWith(runCtx, r.logger)

	cg, fatal := CompileGraph(&req.Version.Graph, r.executors)
	if fatal != nil {
		logger.ErrorContext(runCtx, "graph rejected", slog.String("error", fatal.Error()))
		result.Error = fatal
		result.CompletedAt = time.Now().UTC()
		return result, nil
	}

	ec := NewContext(runID, req.TenantID, mode, req.Input, cg.AliasMap)
	logger.InfoContext(runCtx, "run started",
		slog.String("version_id", req.Version.ID),
		slog.String("mode", string(mode)),
		slog.Int("nodes", len(cg.Nodes)))

	result.Status = r.traverse(runCtx, cg, ec, result)
	result.Outputs = ec.Outputs
	result.Metrics = ec.Metrics
	result.CompletedAt = time.Now().UTC()

	if !req.Debug {
		for i := range result.Trace {
			result.Trace[i].OutputsDelta = nil
		}
	}

	logger.InfoContext(runCtx, "run finished",
		slog.String("status", string(result.Status)),
		slog.Int("trace_entries", len(result.Trace)),
		slog.Int("queries", result.Metrics.QueryCount))
	return result, nil
}

// pendingCondition decorates a node's trace entry with the edge condition
// that admitted it.
type pendingCondition struct {
	expr   string
	result bool
}

func (r *Runner) traverse(ctx context.Context, cg *CompiledGraph, ec *Context, result *RunResult) schema.RunStatus {
	queue := []string{cg.Start}
	enqueued := map[string]bool{cg.Start: true}
	visited := map[string]bool{}
	pending := map[string]pendingCondition{}

	anyFailed := false
	outputsExecuted := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			result.Error = schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
			return schema.RunFailed
		}

		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		node := cg.Nodes[id]
		nodeCtx := logging.WithNodeID(ctx, node.ID)
		logger := logging.LogWith(nodeCtx, r.logger)
		logger.DebugContext(nodeCtx, "executing node", slog.String("type", string(node.Type)))

		start := time.Now()
		res := cg.ExecutorFor(node).Execute(nodeCtx, node, ec)
		entry := schema.TraceEntry{
			NodeID:       node.ID,
			Type:         node.Type,
			Status:       res.Status,
			SkipReason:   res.SkipReason,
			OutputsDelta: res.OutputsDelta,
			SideEffects:  res.SideEffects,
			Error:        res.Err,
			DurationMs:   time.Since(start).Milliseconds(),
		}
		if pc, ok := pending[id]; ok {
			entry.Condition = pc.expr
			v := pc.result
			entry.ConditionResult = &v
		}
		result.Trace = append(result.Trace, entry)

		if res.Status == schema.NodeFailed {
			if res.Err != nil && res.Err.IsFatal() {
				logger.ErrorContext(nodeCtx, "fatal node error", slog.String("error", res.Err.Error()))
				result.Error = res.Err
				return schema.RunFailed
			}
			anyFailed = true
			logger.WarnContext(nodeCtx, "node failed, halting branch", slog.String("error", res.Err.Error()))
			r.recordBranchHalt(cg, id, visited, enqueued, result)
			continue
		}

		ec.MergeOutputs(res.OutputsDelta)
		if node.Type == schema.NodeKindOutput && res.Status == schema.NodeExecuted {
			outputsExecuted++
		}

		for _, edge := range cg.Outgoing[id] {
			if edge.Condition == "" {
				if !visited[edge.Target] && !enqueued[edge.Target] {
					queue = append(queue, edge.Target)
					enqueued[edge.Target] = true
				}
				continue
			}

			pass, condErr := r.conditions.EvaluateBool(nodeCtx, edge.Condition, ec.Env())
			if condErr != nil {
				// A broken edge condition behaves like an unmet one, with the
				// error surfaced on the skip entry.
				engErr, ok := condErr.(*schema.EngineError)
				if !ok {
					engErr = schema.NewError(schema.ErrCodeExpression, condErr.Error()).WithCause(condErr)
				}
				if !visited[edge.Target] && !enqueued[edge.Target] {
					result.Trace = append(result.Trace, schema.TraceEntry{
						NodeID:     edge.Target,
						Type:       cg.Nodes[edge.Target].Type,
						Status:     schema.NodeSkipped,
						SkipReason: schema.SkipReasonCondition,
						Condition:  edge.Condition,
						Error:      engErr.WithNode(edge.Target),
					})
				}
				continue
			}

			if pass {
				if !visited[edge.Target] && !enqueued[edge.Target] {
					queue = append(queue, edge.Target)
					enqueued[edge.Target] = true
					pending[edge.Target] = pendingCondition{expr: edge.Condition, result: true}
				}
				continue
			}

			if !visited[edge.Target] && !enqueued[edge.Target] {
				f := false
				result.Trace = append(result.Trace, schema.TraceEntry{
					NodeID:          edge.Target,
					Type:            cg.Nodes[edge.Target].Type,
					Status:          schema.NodeSkipped,
					SkipReason:      schema.SkipReasonCondition,
					Condition:       edge.Condition,
					ConditionResult: &f,
				})
			}
		}
	}

	// With output nodes declared, success means every one of them ran: a
	// halted branch that starves an output node fails the run even though
	// other branches completed. Without output nodes, any node failure fails
	// the run.
	if total := cg.OutputNodeCount(); total > 0 {
		if outputsExecuted == total {
			return schema.RunSuccess
		}
		if result.Error == nil && anyFailed {
			result.Error = schema.NewError(schema.ErrCodeNodeFailed, "one or more nodes failed")
		} else if result.Error == nil {
			result.Error = schema.NewError(schema.ErrCodeNodeFailed, "not all output nodes were reached")
		}
		return schema.RunFailed
	}
	if anyFailed {
		result.Error = schema.NewError(schema.ErrCodeNodeFailed, "one or more nodes failed")
		return schema.RunFailed
	}
	return schema.RunSuccess
}

// recordBranchHalt marks a failed node's unvisited successors as skipped so
// the trace shows where execution stopped.
func (r *Runner) recordBranchHalt(cg *CompiledGraph, failedID string, visited, enqueued map[string]bool, result *RunResult) {
	for _, edge := range cg.Outgoing[failedID] {
		if visited[edge.Target] || enqueued[edge.Target] {
			continue
		}
		result.Trace = append(result.Trace, schema.TraceEntry{
			NodeID:     edge.Target,
			Type:       cg.Nodes[edge.Target].Type,
			Status:     schema.NodeSkipped,
			SkipReason: schema.SkipReasonBranchHalt,
		})
	}
}

// BuildRunRecord renders a result as the persisted audit record. Shared by
// the CLI and the scheduler so both persist the same shape.
func BuildRunRecord(req RunRequest, result *RunResult) *store.RunRecord {
	record := &store.RunRecord{
		ID:        result.RunID,
		VersionID: req.Version.ID,
		TenantID:  req.TenantID,
		Mode:      req.Mode,
		Status:    result.Status,
		StartedAt: result.StartedAt,
	}
	if record.Mode == "" {
		record.Mode = schema.ModeLive
	}
	completed := result.CompletedAt
	record.CompletedAt = &completed

	record.Outputs = marshalOrNil(result.Outputs)
	record.Trace = marshalOrNil(result.Trace)
	record.Metrics = marshalOrNil(result.Metrics)
	if result.Error != nil {
		record.Error = marshalOrNil(result.Error)
	}
	return record
}

func marshalOrNil(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
