package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/formlane/formlane/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Rows (tabular data store) ---

// GetRowsWithValues returns the rows of a table matching every filter, up to
// limit (0 = unlimited). Filter matching runs in-process on the decoded
// values so the repository and the engine's shadow overlay share semantics.
func (s *LibSQLStore) GetRowsWithValues(ctx context.Context, tableID string, filters []RowFilter, limit int) ([]*Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_id, row_values, created_at, updated_at FROM rows WHERE table_id = ? ORDER BY created_at, id`,
		tableID,
	)
	if err != nil {
		return nil, storeErr("query rows", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		if !MatchFilters(r.Values, filters) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// CreateRowWithValues inserts a new row and returns it with its generated id.
func (s *LibSQLStore) CreateRowWithValues(ctx context.Context, tableID string, values map[string]any) (*Row, error) {
	encoded, err := marshalValues(values)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r := &Row{
		ID:        uuid.NewString(),
		TableID:   tableID,
		Values:    values,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO rows (id, table_id, row_values, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.TableID, encoded, r.CreatedAt, r.UpdatedAt,
	); err != nil {
		return nil, storeErr("insert row", err)
	}
	return r, nil
}

// UpdateRowValues merges values into an existing row and returns the result.
func (s *LibSQLStore) UpdateRowValues(ctx context.Context, rowID string, values map[string]any) (*Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, table_id, row_values, created_at, updated_at FROM rows WHERE id = ?`, rowID)
	r, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("row", rowID)
	}
	if err != nil {
		return nil, err
	}

	if r.Values == nil {
		r.Values = make(map[string]any, len(values))
	}
	for k, v := range values {
		r.Values[k] = v
	}
	encoded, err := marshalValues(r.Values)
	if err != nil {
		return nil, err
	}

	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE rows SET row_values = ?, updated_at = ? WHERE id = ?`,
		encoded, r.UpdatedAt, rowID,
	)
	if err != nil {
		return nil, storeErr("update row", err)
	}
	if err := checkRowsAffected(res, "row", rowID); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRow removes a row by id.
func (s *LibSQLStore) DeleteRow(ctx context.Context, rowID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rows WHERE id = ?`, rowID)
	if err != nil {
		return storeErr("delete row", err)
	}
	return checkRowsAffected(res, "row", rowID)
}

// --- Workflow versions ---

func (s *LibSQLStore) PublishVersion(ctx context.Context, v *WorkflowVersion) error {
	graph, err := json.Marshal(v.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_versions (id, workflow_id, version, name, graph, published_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.WorkflowID, v.Version, nullStr(v.Name), string(graph), timeOrNow(v.PublishedAt),
	)
	if err != nil {
		return storeErr("publish version", err)
	}
	return nil
}

func (s *LibSQLStore) GetVersion(ctx context.Context, id string) (*WorkflowVersion, error) {
	v := &WorkflowVersion{}
	var name sql.NullString
	var graph string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, version, name, graph, published_at FROM workflow_versions WHERE id = ?`, id,
	).Scan(&v.ID, &v.WorkflowID, &v.Version, &name, &graph, &v.PublishedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow version", id)
	}
	if err != nil {
		return nil, err
	}
	v.Name = name.String
	if err := json.Unmarshal([]byte(graph), &v.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph for version %s: %w", id, err)
	}
	return v, nil
}

func (s *LibSQLStore) ListVersions(ctx context.Context, workflowID string) ([]*WorkflowVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, version, name, graph, published_at FROM workflow_versions WHERE workflow_id = ? ORDER BY version`,
		workflowID,
	)
	if err != nil {
		return nil, storeErr("list versions", err)
	}
	defer rows.Close()

	var out []*WorkflowVersion
	for rows.Next() {
		v := &WorkflowVersion{}
		var name sql.NullString
		var graph string
		if err := rows.Scan(&v.ID, &v.WorkflowID, &v.Version, &name, &graph, &v.PublishedAt); err != nil {
			return nil, err
		}
		v.Name = name.String
		if err := json.Unmarshal([]byte(graph), &v.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph for version %s: %w", v.ID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Run records ---

func (s *LibSQLStore) SaveRun(ctx context.Context, run *RunRecord) error {
	outputs, _ := nullableJSON(run.Outputs)
	trace, _ := nullableJSON(run.Trace)
	metrics, _ := nullableJSON(run.Metrics)
	errJSON, _ := nullableJSON(run.Error)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, version_id, tenant_id, mode, status, outputs, trace, metrics, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, outputs=excluded.outputs, trace=excluded.trace,
		 metrics=excluded.metrics, error=excluded.error, completed_at=excluded.completed_at`,
		run.ID, run.VersionID, nullStr(run.TenantID), string(run.Mode), string(run.Status),
		outputs, trace, metrics, errJSON, timeOrNow(run.StartedAt), nullTime(run.CompletedAt),
	)
	if err != nil {
		return storeErr("save run", err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run := &RunRecord{}
	var tenant, outputs, trace, metrics, errJSON sql.NullString
	var mode, status string
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version_id, tenant_id, mode, status, outputs, trace, metrics, error, started_at, completed_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.VersionID, &tenant, &mode, &status, &outputs, &trace, &metrics, &errJSON, &run.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.TenantID = tenant.String
	run.Mode = schema.ExecutionMode(mode)
	run.Status = schema.RunStatus(status)
	run.Outputs = jsonOrNil(outputs)
	run.Trace = jsonOrNil(trace)
	run.Metrics = jsonOrNil(metrics)
	run.Error = jsonOrNil(errJSON)
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return run, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	query := `SELECT id FROM runs WHERE 1=1`
	args := []any{}
	if filter.VersionID != "" {
		query += ` AND version_id = ?`
		args = append(args, filter.VersionID)
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*RunRecord, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// --- Scheduled runs ---

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, job *ScheduledRun) error {
	input, _ := nullableJSON(job.Input)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, version_id, tenant_id, cron_expression, input, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.VersionID, nullStr(job.TenantID), job.CronExpression, input,
		boolToInt(job.Enabled), nullTime(job.LastRunAt), nullTime(job.NextRunAt),
		nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	if err != nil {
		return storeErr("create scheduled run", err)
	}
	return nil
}

func (s *LibSQLStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	job := &ScheduledRun{}
	var tenant, input, status sql.NullString
	var enabled int
	var lastRun, nextRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version_id, tenant_id, cron_expression, input, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_runs WHERE id = ?`, id,
	).Scan(&job.ID, &job.VersionID, &tenant, &job.CronExpression, &input, &enabled, &lastRun, &nextRun, &status, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled run", id)
	}
	if err != nil {
		return nil, err
	}
	job.TenantID = tenant.String
	job.Input = jsonOrNil(input)
	job.Enabled = enabled != 0
	job.LastRunStatus = status.String
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	query := `UPDATE scheduled_runs SET id = id`
	args := []any{}
	if update.Enabled != nil {
		query += `, enabled = ?`
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		query += `, last_run_at = ?`
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		query += `, next_run_at = ?`
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		query += `, last_run_status = ?`
		args = append(args, update.LastRunStatus)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("update scheduled run", err)
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	query := `SELECT id FROM scheduled_runs WHERE 1=1`
	args := []any{}
	if filter.Enabled != nil {
		query += ` AND enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.Tenant != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.Tenant)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list scheduled runs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ScheduledRun, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetScheduledRun(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete scheduled run", err)
	}
	return checkRowsAffected(res, "scheduled run", id)
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(sc rowScanner) (*Row, error) {
	r := &Row{}
	var values string
	if err := sc.Scan(&r.ID, &r.TableID, &values, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(values), &r.Values); err != nil {
		return nil, fmt.Errorf("unmarshal values for row %s: %w", r.ID, err)
	}
	return r, nil
}

func marshalValues(values map[string]any) (string, error) {
	if len(values) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal row values: %w", err)
	}
	return string(b), nil
}

func storeErr(op string, err error) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
