package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/formlane/formlane/internal/store"
	"github.com/formlane/formlane/pkg/schema"
)

// fakeRepo is an in-memory RowRepository with call counters.
type fakeRepo struct {
	mu          sync.Mutex
	tables      map[string][]*store.Row
	byID        map[string]*store.Row
	queryCalls  int
	createCalls int
	updateCalls int
	deleteCalls int
	failWith    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tables: make(map[string][]*store.Row),
		byID:   make(map[string]*store.Row),
	}
}

func (r *fakeRepo) seed(tableID string, values map[string]any) *store.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	row := &store.Row{ID: uuid.NewString(), TableID: tableID, Values: values, CreatedAt: now, UpdatedAt: now}
	r.tables[tableID] = append(r.tables[tableID], row)
	r.byID[row.ID] = row
	return row
}

func (r *fakeRepo) GetRowsWithValues(_ context.Context, tableID string, filters []store.RowFilter, limit int) ([]*store.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryCalls++
	if r.failWith != nil {
		return nil, r.failWith
	}
	var out []*store.Row
	for _, row := range r.tables[tableID] {
		if store.MatchFilters(row.Values, filters) {
			cp := *row
			out = append(out, &cp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateRowWithValues(_ context.Context, tableID string, values map[string]any) (*store.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.failWith != nil {
		return nil, r.failWith
	}
	now := time.Now().UTC()
	row := &store.Row{ID: uuid.NewString(), TableID: tableID, Values: values, CreatedAt: now, UpdatedAt: now}
	r.tables[tableID] = append(r.tables[tableID], row)
	r.byID[row.ID] = row
	return row, nil
}

func (r *fakeRepo) UpdateRowValues(_ context.Context, rowID string, values map[string]any) (*store.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if r.failWith != nil {
		return nil, r.failWith
	}
	row, ok := r.byID[rowID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "row %q not found", rowID)
	}
	for k, v := range values {
		row.Values[k] = v
	}
	row.UpdatedAt = time.Now().UTC()
	cp := *row
	return &cp, nil
}

func (r *fakeRepo) DeleteRow(_ context.Context, rowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if r.failWith != nil {
		return r.failWith
	}
	row, ok := r.byID[rowID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "row %q not found", rowID)
	}
	delete(r.byID, rowID)
	rows := r.tables[row.TableID]
	for i, candidate := range rows {
		if candidate.ID == rowID {
			r.tables[row.TableID] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

func (r *fakeRepo) rowCount(tableID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables[tableID])
}

var _ store.RowRepository = (*fakeRepo)(nil)

// --- test helpers ---

func newTestRunner(t *testing.T, repo store.RowRepository) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewRunner(repo, nil, logger)
	require.NoError(t, err)
	return r
}

func mustConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func testVersion(g schema.Graph) *store.WorkflowVersion {
	return &store.WorkflowVersion{
		ID:          uuid.NewString(),
		WorkflowID:  "wf-test",
		Version:     1,
		Graph:       g,
		PublishedAt: time.Now().UTC(),
	}
}

func traceFor(result *RunResult, nodeID string) *schema.TraceEntry {
	for i := range result.Trace {
		if result.Trace[i].NodeID == nodeID {
			return &result.Trace[i]
		}
	}
	return nil
}

func edgesTo(targets ...string) []schema.Edge {
	var edges []schema.Edge
	for i := 1; i < len(targets); i++ {
		edges = append(edges, schema.Edge{Source: targets[i-1], Target: targets[i]})
	}
	return edges
}

func fmtTrace(result *RunResult) string {
	out := ""
	for _, e := range result.Trace {
		out += fmt.Sprintf("%s=%s(%s) ", e.NodeID, e.Status, e.SkipReason)
	}
	return out
}
