package kanban

import (
	"context"
	"sync"

	"proflo-api/domain"
)

// LoaderFunc fetches the full collection of a board, newest first.
type LoaderFunc func(ctx context.Context) ([]domain.Item, error)

// Store holds the client-side snapshot of one board's items. Callers always
// receive copies; the backing slice never escapes.
type Store struct {
	mu    sync.RWMutex
	items []domain.Item
}

// NewStore creates a store seeded with items.
func NewStore(items []domain.Item) *Store {
	return &Store{items: domain.CloneItems(items)}
}

// Load replaces the collection with the loader's result. On error the
// collection is left untouched.
func (s *Store) Load(ctx context.Context, load LoaderFunc) error {
	items, err := load(ctx)
	if err != nil {
		return err
	}
	s.SetAll(items)
	return nil
}

// Snapshot returns a deep copy of the collection.
func (s *Store) Snapshot() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneItems(s.items)
}

// Len returns the number of items held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get returns a copy of the item with id.
func (s *Store) Get(id string) (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i].Clone(), true
	}
	return domain.Item{}, false
}

// Replace swaps the stored copy of item.ID in place. It reports false when
// the item is not present.
func (s *Store) Replace(item domain.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(item.ID)
	if i < 0 {
		return false
	}
	s.items[i] = item.Clone()
	return true
}

// Insert puts a new item at the head of the collection. An existing item with
// the same id is replaced in place instead.
func (s *Store) Insert(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(item.ID); i >= 0 {
		s.items[i] = item.Clone()
		return
	}
	s.items = append([]domain.Item{item.Clone()}, s.items...)
}

// Remove deletes the item with id and reports whether it was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	return true
}

// SetAll bulk replaces the collection.
func (s *Store) SetAll(items []domain.Item) {
	cp := domain.CloneItems(items)
	s.mu.Lock()
	s.items = cp
	s.mu.Unlock()
}

// Update runs fn on a copy of the collection under the write lock. When fn
// reports ok the returned slice becomes the new collection. The collection as
// it was before the call is returned so callers can roll back.
func (s *Store) Update(fn func(items []domain.Item) ([]domain.Item, bool)) ([]domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := domain.CloneItems(s.items)
	next, ok := fn(domain.CloneItems(s.items))
	if !ok {
		return prev, false
	}
	s.items = domain.CloneItems(next)
	return prev, true
}

func (s *Store) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
