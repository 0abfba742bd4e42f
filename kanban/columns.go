package kanban

import (
	"slices"

	"proflo-api/domain"
)

// Columns maps each status to the ordered ids of the items in that column.
type Columns map[string][]string

// Project partitions items into columns following the declared status order.
// Relative order within a column is the collection order. Items with a
// status outside statuses are left out.
func Project(items []domain.Item, statuses []string) Columns {
	cols := make(Columns, len(statuses))
	for _, s := range statuses {
		cols[s] = []string{}
	}
	for _, it := range items {
		if ids, ok := cols[it.Status]; ok {
			cols[it.Status] = append(ids, it.ID)
		}
	}
	return cols
}

// Unplaced returns the ids of items whose status matches no column.
func Unplaced(items []domain.Item, statuses []string) []string {
	out := []string{}
	for _, it := range items {
		if !slices.Contains(statuses, it.Status) {
			out = append(out, it.ID)
		}
	}
	return out
}

// Locate returns the column holding id and its position there.
func (c Columns) Locate(id string, statuses []string) (string, int, bool) {
	for _, s := range statuses {
		if i := slices.Index(c[s], id); i >= 0 {
			return s, i, true
		}
	}
	return "", -1, false
}

// Clone deep copies the column map.
func (c Columns) Clone() Columns {
	out := make(Columns, len(c))
	for k, v := range c {
		out[k] = slices.Clone(v)
	}
	return out
}

// Rebuild folds a column map back into a collection: columns in declared
// order with every item's status set to its column, then any item not placed
// in a column in its original order.
func Rebuild(items []domain.Item, cols Columns, statuses []string) []domain.Item {
	byID := make(map[string]domain.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]domain.Item, 0, len(items))
	placed := make(map[string]struct{}, len(items))
	for _, s := range statuses {
		for _, id := range cols[s] {
			it, ok := byID[id]
			if !ok {
				continue
			}
			if _, dup := placed[id]; dup {
				continue
			}
			it.Status = s
			out = append(out, it)
			placed[id] = struct{}{}
		}
	}
	for _, it := range items {
		if _, ok := placed[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}
