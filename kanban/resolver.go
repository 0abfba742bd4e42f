package kanban

import (
	"slices"
)

// Move is a resolved drop.
type Move struct {
	ItemID string
	From   string
	To     string
	// Index is the item's final position in the To column.
	Index   int
	Columns Columns
}

// SameColumn reports whether the move is a visual reorder inside one column.
func (m Move) SameColumn() bool { return m.From == m.To }

// Resolve computes the destination of dropping activeID over overID, which is
// either a column key or another item's id. It reports false when the drop
// changes nothing: unknown source or target, the source's own column, or the
// item's current position.
func Resolve(cols Columns, statuses []string, activeID, overID string) (Move, bool) {
	from, fromIdx, ok := cols.Locate(activeID, statuses)
	if !ok {
		return Move{}, false
	}

	var (
		to        string
		insertion int
	)
	if slices.Contains(statuses, overID) {
		to = overID
		if to == from {
			return Move{}, false
		}
		insertion = len(cols[to])
	} else {
		if overID == activeID {
			return Move{}, false
		}
		col, idx, found := cols.Locate(overID, statuses)
		if !found {
			return Move{}, false
		}
		to, insertion = col, idx
	}

	next := cols.Clone()
	if from == to {
		list := slices.Delete(next[from], fromIdx, fromIdx+1)
		if fromIdx < insertion {
			insertion--
		}
		if insertion == fromIdx {
			return Move{}, false
		}
		next[from] = slices.Insert(list, insertion, activeID)
	} else {
		next[from] = slices.Delete(next[from], fromIdx, fromIdx+1)
		next[to] = slices.Insert(next[to], insertion, activeID)
	}

	return Move{ItemID: activeID, From: from, To: to, Index: insertion, Columns: next}, true
}
