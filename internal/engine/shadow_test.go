package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formlane/formlane/internal/store"
)

func repoRow(id, tableID string, values map[string]any) *store.Row {
	now := time.Now().UTC()
	return &store.Row{ID: id, TableID: tableID, Values: values, CreatedAt: now, UpdatedAt: now}
}

func TestShadowCreateVisible(t *testing.T) {
	o := NewShadowOverlay()
	created := o.Create("contacts", map[string]any{"name": "Test"})
	require.NotEmpty(t, created.ID)

	rows := o.Apply("contacts", nil, nil, 0)
	require.Len(t, rows, 1)
	assert.Equal(t, "Test", rows[0].Values["name"])
}

func TestShadowCreateRespectsFilters(t *testing.T) {
	o := NewShadowOverlay()
	o.Create("contacts", map[string]any{"name": "Match"})
	o.Create("contacts", map[string]any{"name": "Other"})

	rows := o.Apply("contacts", nil, []store.RowFilter{{Column: "name", Value: "Match"}}, 0)
	require.Len(t, rows, 1)
	assert.Equal(t, "Match", rows[0].Values["name"])
}

func TestShadowUpdatePatchesRepoRow(t *testing.T) {
	o := NewShadowOverlay()
	base := repoRow("r1", "contacts", map[string]any{"tier": "basic", "name": "A"})
	o.Update("r1", map[string]any{"tier": "pro"})

	rows := o.Apply("contacts", []*store.Row{base}, nil, 0)
	require.Len(t, rows, 1)
	assert.Equal(t, "pro", rows[0].Values["tier"])
	assert.Equal(t, "A", rows[0].Values["name"])

	// The source row is never mutated.
	assert.Equal(t, "basic", base.Values["tier"])
}

// A patch can change whether a row matches the filters; the patched values
// decide, not the stored ones.
func TestShadowUpdateRefiltersPatchedRow(t *testing.T) {
	o := NewShadowOverlay()
	base := repoRow("r1", "contacts", map[string]any{"tier": "basic"})
	o.Update("r1", map[string]any{"tier": "pro"})

	proOnly := []store.RowFilter{{Column: "tier", Value: "pro"}}
	rows := o.Apply("contacts", []*store.Row{base}, proOnly, 0)
	assert.Len(t, rows, 1)

	basicOnly := []store.RowFilter{{Column: "tier", Value: "basic"}}
	rows = o.Apply("contacts", []*store.Row{base}, basicOnly, 0)
	assert.Empty(t, rows)
}

func TestShadowUpdateOfShadowCreatedRow(t *testing.T) {
	o := NewShadowOverlay()
	created := o.Create("contacts", map[string]any{"tier": "basic"})
	o.Update(created.ID, map[string]any{"tier": "pro"})

	rows := o.Apply("contacts", nil, nil, 0)
	require.Len(t, rows, 1)
	assert.Equal(t, "pro", rows[0].Values["tier"])
}

func TestShadowDeleteTombstones(t *testing.T) {
	o := NewShadowOverlay()
	base := repoRow("r1", "contacts", map[string]any{"name": "A"})
	o.Delete("r1")

	rows := o.Apply("contacts", []*store.Row{base}, nil, 0)
	assert.Empty(t, rows)
}

func TestShadowDeleteOfShadowCreatedRow(t *testing.T) {
	o := NewShadowOverlay()
	created := o.Create("contacts", map[string]any{"name": "A"})
	o.Delete(created.ID)

	rows := o.Apply("contacts", nil, nil, 0)
	assert.Empty(t, rows)
}

func TestShadowApplyHonorsLimit(t *testing.T) {
	o := NewShadowOverlay()
	o.Create("contacts", map[string]any{"n": 1})
	o.Create("contacts", map[string]any{"n": 2})
	base := repoRow("r1", "contacts", map[string]any{"n": 0})

	rows := o.Apply("contacts", []*store.Row{base}, nil, 2)
	assert.Len(t, rows, 2)
}

func TestShadowTablesAreIndependent(t *testing.T) {
	o := NewShadowOverlay()
	o.Create("contacts", map[string]any{"name": "A"})

	rows := o.Apply("orders", nil, nil, 0)
	assert.Empty(t, rows)
}
