package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"proflo-api/domain"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestPublishSubscribe(t *testing.T) {
	rc := setupRedis(t)
	logger, hook := test.NewNullLogger()

	var (
		mu  sync.Mutex
		got []domain.ChangeEvent
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Subscribe(ctx, logger, rc, "changes", func(_ context.Context, ev domain.ChangeEvent) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		})
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)

	if err := rc.Publish(context.Background(), "changes", "{not json").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	pub := NewPublisher(rc, "changes", "instance-a")
	ev := domain.ChangeEvent{
		ID:         "ev1",
		EntityID:   "p1",
		EntityType: domain.KindProject,
		Type:       domain.ItemStatusChanged,
		TenantID:   "tenant-1",
		Scope:      "tenant-1",
		Data:       []byte(`{"status":"active"}`),
	}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	events := append([]domain.ChangeEvent(nil), got...)
	mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EntityID != "p1" || events[0].Origin != "instance-a" || events[0].Type != domain.ItemStatusChanged {
		t.Fatalf("unexpected event: %#v", events[0])
	}
	if string(events[0].Data) != `{"status":"active"}` {
		t.Fatalf("unexpected data %s", events[0].Data)
	}

	var parseErrors int
	for _, e := range hook.AllEntries() {
		if e.Level == log.ErrorLevel && e.Message == "unable to parse change event" {
			parseErrors++
		}
	}
	if parseErrors != 1 {
		t.Fatalf("expected invalid payload to be logged once, got %d", parseErrors)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not exit")
	}
}

func TestSubscribeSkipsEventsWithoutTenant(t *testing.T) {
	rc := setupRedis(t)
	logger, _ := test.NewNullLogger()

	calls := make(chan domain.ChangeEvent, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Subscribe(ctx, logger, rc, "changes", func(_ context.Context, ev domain.ChangeEvent) { calls <- ev })
	time.Sleep(50 * time.Millisecond)

	if err := rc.Publish(context.Background(), "changes", `{"entityId":"p1"}`).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-calls:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublisherNotConfigured(t *testing.T) {
	var p *Publisher
	if err := p.Publish(context.Background(), domain.ChangeEvent{}); err == nil {
		t.Fatalf("expected error from nil publisher")
	}
}

func TestBrokerNotifiesTenantOnly(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("tenant-a")
	other := b.Subscribe("tenant-b")

	b.Notify("tenant-a")
	b.Notify("tenant-a")
	select {
	case <-a:
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
	select {
	case <-a:
		t.Fatal("expected notifications to coalesce")
	default:
	}
	select {
	case <-other:
		t.Fatal("other tenant notified")
	default:
	}

	b.Unsubscribe("tenant-a", a)
	if n := b.Subscribers("tenant-a"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	b.Notify("tenant-a")
	select {
	case <-a:
		t.Fatal("received notification after unsubscribe")
	default:
	}
}
