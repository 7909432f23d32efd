package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"waveloft/core/events"
	"waveloft/logger"

	"github.com/redis/go-redis/v9"
)

// EventBus publishes catalog events on a Redis pub/sub channel and lets
// websocket handlers listen to them.
type EventBus struct {
	rdb     redis.UniversalClient
	channel string
}

// NewEventBus creates an EventBus on channel.
func NewEventBus(rdb redis.UniversalClient, channel string) *EventBus {
	return &EventBus{rdb: rdb, channel: channel}
}

// Channel returns the pub/sub channel name.
func (b *EventBus) Channel() string { return b.channel }

// Publish implements events.Publisher.
func (b *EventBus) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	receivers, err := b.rdb.Publish(ctx, b.channel, string(payload)).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	logger.Debug("catalog event published",
		logger.String("kind", string(ev.Kind)),
		logger.String("trackId", ev.TrackID),
		logger.Int64("receivers", receivers))
	return nil
}

// Subscribe streams events until ctx is done or the subscription breaks.
// The returned channel is closed on exit.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan events.Event, error) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := DecodeEvent(msg.Payload)
				if err != nil {
					logger.Warn("dropping malformed catalog event", logger.ErrorField(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// DecodeEvent parses a published payload.
func DecodeEvent(payload string) (events.Event, error) {
	var ev events.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return events.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Kind == "" {
		return events.Event{}, fmt.Errorf("decode event: missing kind")
	}
	return ev, nil
}
