package kanban

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"proflo-api/domain"
)

// Phase is a step of the single-move state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDragging   Phase = "dragging"
	PhaseResolving  Phase = "resolving"
	PhaseCommitted  Phase = "committed"
	PhaseRolledBack Phase = "rolled_back"
)

// ReconcilePolicy decides whether a realtime push overwrites the local copy.
type ReconcilePolicy int

const (
	// LastWriterWins applies every push in arrival order.
	LastWriterWins ReconcilePolicy = iota
	// NewerWins drops pushes whose UpdatedAt is older than the local copy.
	NewerWins
)

// Options configures a Board.
type Options struct {
	Kind     domain.Kind
	Scope    string
	Statuses []string
	Remote   Remote
	Logger   *log.Logger
	Policy   ReconcilePolicy
	Now      func() time.Time
}

// View is a rendered board.
type View struct {
	Kind     domain.Kind   `json:"kind"`
	Scope    string        `json:"scope"`
	Statuses []string      `json:"statuses"`
	Columns  Columns       `json:"columns"`
	Items    []domain.Item `json:"items"`
	Unplaced []string      `json:"unplaced"`
	Clients  []string      `json:"clients"`
	Dragging string        `json:"dragging,omitempty"`
	Overlay  *domain.Item  `json:"overlay,omitempty"`
	Error    string        `json:"error,omitempty"`
	Loaded   bool          `json:"loaded"`
}

// Board is the Kanban view of one collection.
type Board struct {
	kind     domain.Kind
	scope    string
	statuses []string
	store    *Store
	mutator  *Mutator
	logger   *log.Logger
	policy   ReconcilePolicy
	now      func() time.Time

	mu      sync.Mutex
	session DragSession
	phase   Phase
	errMsg  string
	loaded  bool
}

// NewBoard creates an empty board.
func NewBoard(opts Options) *Board {
	if opts.Remote == nil {
		panic("kanban.NewBoard: remote is nil")
	}
	if len(opts.Statuses) == 0 {
		opts.Statuses = opts.Kind.Statuses()
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	store := NewStore(nil)
	return &Board{
		kind:     opts.Kind,
		scope:    opts.Scope,
		statuses: slices.Clone(opts.Statuses),
		store:    store,
		mutator:  NewMutator(store, opts.Remote, opts.Kind, opts.Scope),
		logger:   opts.Logger,
		policy:   opts.Policy,
		now:      opts.Now,
		phase:    PhaseIdle,
	}
}

func (b *Board) Kind() domain.Kind  { return b.kind }
func (b *Board) Scope() string      { return b.scope }
func (b *Board) Statuses() []string { return slices.Clone(b.statuses) }

// Items returns a copy of the collection.
func (b *Board) Items() []domain.Item { return b.store.Snapshot() }

// Item returns a copy of the item with id.
func (b *Board) Item(id string) (domain.Item, bool) { return b.store.Get(id) }

// Load fetches the collection. A failure keeps the current items and sets
// the error indicator.
func (b *Board) Load(ctx context.Context, load LoaderFunc) error {
	if err := b.store.Load(ctx, load); err != nil {
		b.setErr(fmt.Sprintf("Failed to load %ss", b.kind))
		b.logger.WithFields(log.Fields{"kind": b.kind, "scope": b.scope}).Errorf("board load failed: %v", err)
		return err
	}
	b.mu.Lock()
	b.loaded = true
	b.mu.Unlock()
	return nil
}

// Loaded reports whether a load has succeeded.
func (b *Board) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// View renders the board. Columns only hold items matching filter; Unplaced
// lists every item whose status has no column.
func (b *Board) View(filter domain.Filter) View {
	items := b.store.Snapshot()
	visible := filter.Apply(items, b.now())

	b.mu.Lock()
	active, dragging := b.session.Active()
	v := View{
		Kind:     b.kind,
		Scope:    b.scope,
		Statuses: slices.Clone(b.statuses),
		Error:    b.errMsg,
		Loaded:   b.loaded,
	}
	b.mu.Unlock()

	v.Columns = Project(visible, b.statuses)
	v.Items = visible
	v.Unplaced = Unplaced(items, b.statuses)
	v.Clients = domain.Clients(items)
	if dragging {
		v.Dragging = active
		for i := range items {
			if items[i].ID == active {
				overlay := items[i]
				v.Overlay = &overlay
				break
			}
		}
	}
	return v
}

// Phase returns the state of the drag state machine.
func (b *Board) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// DragStart begins a drag of id after the pointer moved distance pixels.
func (b *Board) DragStart(id string, distance float64) error {
	if _, ok := b.store.Get(id); !ok {
		return ErrUnknownItem
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.session.Begin(id, distance); err != nil {
		return err
	}
	b.transition(id, PhaseDragging)
	return nil
}

// DragCancel aborts the current drag without any mutation.
func (b *Board) DragCancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.session.End(); ok {
		b.transition(id, PhaseIdle)
	}
}

// DragEnd resolves dropping the dragged item over overID and persists the
// resulting status. An empty overID means the item was dropped outside any
// target. The session is cleared before the remote call so another drag may
// start while it is in flight.
func (b *Board) DragEnd(ctx context.Context, overID string) Result {
	b.mu.Lock()
	id, ok := b.session.End()
	if !ok {
		b.mu.Unlock()
		return Result{Outcome: NoOp}
	}
	b.transition(id, PhaseResolving)
	b.mu.Unlock()

	if overID == "" {
		b.finish(id, PhaseIdle)
		return Result{Outcome: NoOp}
	}

	res := b.mutator.Move(ctx, func(items []domain.Item) ([]domain.Item, Move, bool) {
		mv, ok := Resolve(Project(items, b.statuses), b.statuses, id, overID)
		if !ok {
			return nil, Move{}, false
		}
		return Rebuild(items, mv.Columns, b.statuses), mv, true
	})

	switch res.Outcome {
	case Committed:
		b.finish(id, PhaseCommitted)
	case RolledBack:
		b.setErr(fmt.Sprintf("Failed to move %s. Reverting.", b.kind))
		b.logger.WithFields(log.Fields{
			"kind":  b.kind,
			"scope": b.scope,
			"item":  id,
			"to":    res.Move.To,
		}).Errorf("failed to persist move: %v", res.Err)
		b.finish(id, PhaseRolledBack)
	default:
		b.finish(id, PhaseIdle)
	}
	return res
}

// Insert adds a newly created item.
func (b *Board) Insert(item domain.Item) { b.store.Insert(item) }

// Replace swaps an item's authoritative copy after an explicit edit.
func (b *Board) Replace(item domain.Item) bool { return b.store.Replace(item) }

// Remove drops an item after a confirmed delete.
func (b *Board) Remove(id string) bool {
	b.mu.Lock()
	if active, ok := b.session.Active(); ok && active == id {
		b.session.End()
		b.transition(id, PhaseIdle)
	}
	b.mu.Unlock()
	return b.store.Remove(id)
}

// RemoveScope drops every item of scope, used when a project and its tasks
// are deleted. It returns the number of removed items.
func (b *Board) RemoveScope(scope string) int {
	var removed []string
	b.store.Update(func(items []domain.Item) ([]domain.Item, bool) {
		next := items[:0]
		for _, it := range items {
			if it.Scope == scope {
				removed = append(removed, it.ID)
				continue
			}
			next = append(next, it)
		}
		return next, len(removed) > 0
	})
	if len(removed) > 0 {
		b.mu.Lock()
		if active, ok := b.session.Active(); ok && slices.Contains(removed, active) {
			b.session.End()
			b.transition(active, PhaseIdle)
		}
		b.mu.Unlock()
	}
	return len(removed)
}

// ApplyRemote merges a realtime push into the collection according to the
// board's policy. It reports whether the local collection changed.
func (b *Board) ApplyRemote(item domain.Item) bool {
	if b.policy == NewerWins {
		if cur, ok := b.store.Get(item.ID); ok && cur.UpdatedAt > item.UpdatedAt {
			b.logger.WithFields(log.Fields{"item": item.ID, "local": cur.UpdatedAt, "remote": item.UpdatedAt}).Debug("stale realtime push ignored")
			return false
		}
	}
	if !b.store.Replace(item) {
		b.store.Insert(item)
	}
	return true
}

// RemoveRemote applies a realtime delete.
func (b *Board) RemoveRemote(id string) bool { return b.Remove(id) }

// Err returns the error indicator.
func (b *Board) Err() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errMsg
}

// ClearErr resets the error indicator.
func (b *Board) ClearErr() { b.setErr("") }

func (b *Board) setErr(msg string) {
	b.mu.Lock()
	b.errMsg = msg
	b.mu.Unlock()
}

// finish records the terminal phase of a move and returns to idle unless a
// newer drag has already started.
func (b *Board) finish(id string, terminal Phase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dragging := b.session.Active(); dragging {
		return
	}
	if terminal != PhaseIdle {
		b.transition(id, terminal)
	}
	b.transition(id, PhaseIdle)
}

// transition must be called with b.mu held.
func (b *Board) transition(id string, to Phase) {
	if b.phase == to {
		return
	}
	b.logger.WithFields(log.Fields{"kind": b.kind, "scope": b.scope, "item": id, "from": b.phase, "to": to}).Debug("board phase")
	b.phase = to
}
