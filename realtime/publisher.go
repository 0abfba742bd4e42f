package realtime

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"proflo-api/domain"
)

// Publisher writes change events to a Redis channel.
type Publisher struct {
	rc      *redis.Client
	channel string
	origin  string
}

// NewPublisher returns a Publisher stamping every event with origin.
func NewPublisher(rc *redis.Client, channel, origin string) *Publisher {
	return &Publisher{rc: rc, channel: channel, origin: origin}
}

// Origin returns the instance id stamped on published events.
func (p *Publisher) Origin() string {
	return p.origin
}

func (p *Publisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	if p == nil || p.rc == nil {
		return errors.New("publisher not configured")
	}
	if ev.Origin == "" {
		ev.Origin = p.origin
	}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, data).Err()
}
