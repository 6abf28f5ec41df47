package schema

// NodeStatus is the outcome of a single node visit.
type NodeStatus string

const (
	NodeExecuted NodeStatus = "executed"
	NodeSkipped  NodeStatus = "skipped"
	NodeFailed   NodeStatus = "failed"
)

// Skip reasons surfaced in trace entries.
const (
	SkipReasonCached      = "cached"
	SkipReasonIdempotency = "idempotency"
	SkipReasonCondition   = "condition"
	SkipReasonBranchHalt  = "branch_halted"
)

// RunStatus is the lifecycle state of one run invocation.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// TraceEntry is the audit record of one visited node. One entry is appended
// per visit, in traversal order.
type TraceEntry struct {
	NodeID          string         `json:"node_id"`
	Type            NodeKind       `json:"type"`
	Status          NodeStatus     `json:"status"`
	SkipReason      string         `json:"skip_reason,omitempty"`
	Condition       string         `json:"condition,omitempty"`
	ConditionResult *bool          `json:"condition_result,omitempty"`
	OutputsDelta    map[string]any `json:"outputs_delta,omitempty"`
	SideEffects     []SideEffect   `json:"side_effects,omitempty"`
	Error           *EngineError   `json:"error,omitempty"`
	DurationMs      int64          `json:"duration_ms,omitempty"`
}

// SideEffect records one proposed or applied mutation of the tabular store.
// Shadow is true when the effect was held in memory (preview mode) and never
// reached the repository.
type SideEffect struct {
	Operation WriteOperation `json:"operation"`
	TableID   string         `json:"table_id"`
	RowID     string         `json:"row_id,omitempty"`
	Values    map[string]any `json:"values,omitempty"`
	Shadow    bool           `json:"shadow"`
}

// Metrics holds per-run observability counters. Not correctness-critical.
type Metrics struct {
	DBTimeMs   int64 `json:"db_time_ms"`
	JSTimeMs   int64 `json:"js_time_ms"`
	QueryCount int   `json:"query_count"`
}
