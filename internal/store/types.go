package store

import (
	"encoding/json"
	"time"

	"github.com/formlane/formlane/pkg/schema"
)

// Row is one record of the tabular data store. Column values are schemaless
// from the engine's point of view: a JSON object keyed by column id.
type Row struct {
	ID        string         `json:"id"`
	TableID   string         `json:"table_id"`
	Values    map[string]any `json:"values"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RowFilter is one resolved query predicate. Value is a concrete value, not
// an expression — expression resolution happens in the engine before the
// repository is consulted.
type RowFilter struct {
	Column string `json:"column"`
	Op     string `json:"op,omitempty"` // eq (default), neq, gt, gte, lt, lte, contains
	Value  any    `json:"value"`
}

// WorkflowVersion is a published, immutable workflow version. The graph is
// read-only input to the runner.
type WorkflowVersion struct {
	ID          string       `json:"id"`
	WorkflowID  string       `json:"workflow_id"`
	Version     int          `json:"version"`
	Name        string       `json:"name,omitempty"`
	Graph       schema.Graph `json:"graph"`
	PublishedAt time.Time    `json:"published_at"`
}

// RunRecord is the persisted audit of one run invocation: final status,
// outputs, and the per-node trace consumed by the builder's debug UI.
type RunRecord struct {
	ID          string               `json:"id"`
	VersionID   string               `json:"version_id"`
	TenantID    string               `json:"tenant_id,omitempty"`
	Mode        schema.ExecutionMode `json:"mode"`
	Status      schema.RunStatus     `json:"status"`
	Outputs     json.RawMessage      `json:"outputs,omitempty"`
	Trace       json.RawMessage      `json:"trace,omitempty"`
	Metrics     json.RawMessage      `json:"metrics,omitempty"`
	Error       json.RawMessage      `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing run records.
type RunFilter struct {
	VersionID string            `json:"version_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Status    *schema.RunStatus `json:"status,omitempty"`
	Limit     int               `json:"limit,omitempty"`
}

// ScheduledRun is a cron-triggered live execution of a published version.
type ScheduledRun struct {
	ID             string          `json:"id"`
	VersionID      string          `json:"version_id"`
	TenantID       string          `json:"tenant_id,omitempty"`
	CronExpression string          `json:"cron_expression"`
	Input          json.RawMessage `json:"input,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ScheduledRunUpdate specifies mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Tenant  string `json:"tenant,omitempty"`
}
