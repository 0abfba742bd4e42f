package realtime

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"proflo-api/domain"
)

// ReconnectDelay is the pause between pub/sub reconnect attempts.
var ReconnectDelay = time.Second

// Subscribe listens for change events on channel and hands each decoded event
// to handle. It reconnects when the pub/sub channel closes and returns when
// ctx is done.
func Subscribe(
	ctx context.Context,
	logger log.FieldLogger,
	rc *redis.Client,
	channel string,
	handle func(ctx context.Context, ev domain.ChangeEvent),
) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.ChangeEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Error("unable to parse change event")
					continue
				}
				if ev.EntityID == "" || ev.TenantID == "" {
					logger.WithField("payload", msg.Payload).Warn("change event without entity or tenant")
					continue
				}
				handle(ctx, ev)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
	}
}
