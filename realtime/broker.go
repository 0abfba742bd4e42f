package realtime

import "sync"

// Broker fans change notifications out to the SSE subscribers of a tenant.
// Notifications coalesce: a slow subscriber sees at most one pending signal.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) Subscribe(tenant string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	if b.subs[tenant] == nil {
		b.subs[tenant] = make(map[chan struct{}]struct{})
	}
	b.subs[tenant][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(tenant string, ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs[tenant], ch)
	if len(b.subs[tenant]) == 0 {
		delete(b.subs, tenant)
	}
	b.mu.Unlock()
}

func (b *Broker) Notify(tenant string) {
	b.mu.Lock()
	for ch := range b.subs[tenant] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribers reports how many streams are open for tenant.
func (b *Broker) Subscribers(tenant string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[tenant])
}
