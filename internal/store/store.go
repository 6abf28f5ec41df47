package store

import "context"

// RowRepository is the narrow contract through which the engine touches the
// tabular data store. The engine never bypasses this interface.
// All implementations must be safe for concurrent use.
type RowRepository interface {
	GetRowsWithValues(ctx context.Context, tableID string, filters []RowFilter, limit int) ([]*Row, error)
	CreateRowWithValues(ctx context.Context, tableID string, values map[string]any) (*Row, error)
	UpdateRowValues(ctx context.Context, rowID string, values map[string]any) (*Row, error)
	DeleteRow(ctx context.Context, rowID string) error
}

// Store defines the full persistence layer contract: the row repository plus
// workflow versions, run records, and scheduled runs.
type Store interface {
	RowRepository

	// Workflow versions (immutable once published)
	PublishVersion(ctx context.Context, v *WorkflowVersion) error
	GetVersion(ctx context.Context, id string) (*WorkflowVersion, error)
	ListVersions(ctx context.Context, workflowID string) ([]*WorkflowVersion, error)

	// Run records
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// Scheduled runs
	CreateScheduledRun(ctx context.Context, job *ScheduledRun) error
	GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	DeleteScheduledRun(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
