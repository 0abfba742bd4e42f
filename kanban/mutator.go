package kanban

import (
	"context"
	"fmt"

	"proflo-api/domain"
)

// Remote persists a single status change and may return the canonical row.
type Remote interface {
	UpdateStatus(ctx context.Context, kind domain.Kind, scope, id, status string) (*domain.Item, error)
}

// Outcome is the terminal state of a drop.
type Outcome int

const (
	NoOp Outcome = iota
	Committed
	RolledBack
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return "noop"
}

// Result describes what a drop did.
type Result struct {
	Outcome Outcome
	Move    Move
	// Item is the moved item after the drop: the canonical row on commit.
	Item *domain.Item
	// Err carries the remote failure on rollback.
	Err error
}

// ApplyFunc computes the optimistic collection and the status to persist.
type ApplyFunc func(items []domain.Item) (next []domain.Item, move Move, ok bool)

// Mutator applies a change locally first, then persists it with one remote
// call, rolling the whole collection back when that call fails.
type Mutator struct {
	store  *Store
	remote Remote
	kind   domain.Kind
	scope  string
}

// NewMutator creates a mutator over store.
func NewMutator(store *Store, remote Remote, kind domain.Kind, scope string) *Mutator {
	return &Mutator{store: store, remote: remote, kind: kind, scope: scope}
}

// Move runs apply against the current collection and persists the result.
func (m *Mutator) Move(ctx context.Context, apply ApplyFunc) Result {
	var move Move
	scope := m.scope
	prev, changed := m.store.Update(func(items []domain.Item) ([]domain.Item, bool) {
		next, mv, ok := apply(items)
		if !ok {
			return nil, false
		}
		move = mv
		for i := range items {
			if items[i].ID == mv.ItemID && items[i].Scope != "" {
				scope = items[i].Scope
				break
			}
		}
		return next, true
	})
	if !changed {
		return Result{Outcome: NoOp}
	}

	// Boards spanning several partitions write each item under its own scope.
	canonical, err := m.remote.UpdateStatus(ctx, m.kind, scope, move.ItemID, move.To)
	if err != nil {
		m.store.SetAll(prev)
		return Result{Outcome: RolledBack, Move: move, Err: fmt.Errorf("update %s %s: %w", m.kind, move.ItemID, err)}
	}

	if canonical != nil {
		m.store.Replace(*canonical)
	}
	res := Result{Outcome: Committed, Move: move}
	if it, ok := m.store.Get(move.ItemID); ok {
		res.Item = &it
	}
	return res
}
