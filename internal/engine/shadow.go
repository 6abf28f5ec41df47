package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/formlane/formlane/internal/store"
)

// ShadowOverlay holds the writes of a preview run in memory. Queries issued
// later in the same run see the overlay applied on top of repository results,
// so a preview behaves like a live run without the repository ever seeing a
// mutation. Discarded with the run.
type ShadowOverlay struct {
	created map[string][]*store.Row  // tableID -> rows created this run
	updates map[string]map[string]any // rowID -> accumulated patch
	deleted map[string]struct{}       // rowID tombstones
}

// NewShadowOverlay creates an empty overlay.
func NewShadowOverlay() *ShadowOverlay {
	return &ShadowOverlay{
		created: make(map[string][]*store.Row),
		updates: make(map[string]map[string]any),
		deleted: make(map[string]struct{}),
	}
}

// Create records a shadow row and returns it. The row gets a real id so later
// updates and deletes in the same run can address it.
func (o *ShadowOverlay) Create(tableID string, values map[string]any) *store.Row {
	now := time.Now().UTC()
	row := &store.Row{
		ID:        uuid.NewString(),
		TableID:   tableID,
		Values:    copyValues(values),
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.created[tableID] = append(o.created[tableID], row)
	return row
}

// Update records a patch against a row. If the row was created in this run,
// the patch is applied to the shadow row directly; otherwise it accumulates
// and is merged over repository values at query time.
func (o *ShadowOverlay) Update(rowID string, values map[string]any) {
	for _, rows := range o.created {
		for _, row := range rows {
			if row.ID == rowID {
				for k, v := range values {
					row.Values[k] = v
				}
				row.UpdatedAt = time.Now().UTC()
				return
			}
		}
	}
	patch := o.updates[rowID]
	if patch == nil {
		patch = make(map[string]any)
		o.updates[rowID] = patch
	}
	for k, v := range values {
		patch[k] = v
	}
}

// Delete records a tombstone. Applies to repository rows and shadow-created
// rows alike.
func (o *ShadowOverlay) Delete(rowID string) {
	o.deleted[rowID] = struct{}{}
}

// Apply merges the overlay into a set of repository rows: tombstoned rows
// drop out, patches are applied (and the patched row re-checked against the
// filters), and shadow-created rows that match are appended. Repository rows
// are never mutated; patched copies are returned.
func (o *ShadowOverlay) Apply(tableID string, repoRows []*store.Row, filters []store.RowFilter, limit int) []*store.Row {
	out := make([]*store.Row, 0, len(repoRows))

	for _, row := range repoRows {
		if _, gone := o.deleted[row.ID]; gone {
			continue
		}
		if patch, ok := o.updates[row.ID]; ok {
			patched := &store.Row{
				ID:        row.ID,
				TableID:   row.TableID,
				Values:    copyValues(row.Values),
				CreatedAt: row.CreatedAt,
				UpdatedAt: time.Now().UTC(),
			}
			for k, v := range patch {
				patched.Values[k] = v
			}
			if !store.MatchFilters(patched.Values, filters) {
				continue
			}
			out = append(out, patched)
			continue
		}
		out = append(out, row)
	}

	for _, row := range o.created[tableID] {
		if _, gone := o.deleted[row.ID]; gone {
			continue
		}
		if store.MatchFilters(row.Values, filters) {
			out = append(out, row)
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyValues(values map[string]any) map[string]any {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return cp
}
