package kanban

import (
	"context"
	"sync"

	"proflo-api/domain"
)

type statusCall struct {
	kind   domain.Kind
	scope  string
	id     string
	status string
}

type fakeRemote struct {
	mu        sync.Mutex
	calls     []statusCall
	err       error
	canonical func(id, status string) *domain.Item
	// gate, when set, blocks UpdateStatus until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeRemote) UpdateStatus(ctx context.Context, kind domain.Kind, scope, id, status string) (*domain.Item, error) {
	f.mu.Lock()
	f.calls = append(f.calls, statusCall{kind: kind, scope: scope, id: id, status: status})
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.canonical != nil {
		return f.canonical(id, status), nil
	}
	return nil, nil
}

func (f *fakeRemote) Calls() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func ptrItem(it domain.Item) *domain.Item { return &it }

func ids(items []domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
