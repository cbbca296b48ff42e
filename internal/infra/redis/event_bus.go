package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// EventBus publishes each event on channel prefix+routingKey and consumes with
// one PSUBSCRIBE per routing pattern. Pub/sub gives each instance its own
// copy of every message and nothing is kept for absent subscribers.
type EventBus struct {
	client redis.UniversalClient
	prefix string
}

func NewEventBus(client redis.UniversalClient, prefix string) *EventBus {
	return &EventBus{client: client, prefix: prefix}
}

func (b *EventBus) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.prefix+evt.RoutingKey, data).Err(); err != nil {
		return fmt.Errorf("redis bus: publish %s: %w", evt.RoutingKey, err)
	}
	return nil
}

// Consume returns when ctx is cancelled or the subscription channel closes.
func (b *EventBus) Consume(ctx context.Context, handler app.EventHandler) error {
	patterns := make([]string, len(domain.RoutingPatterns))
	for i, p := range domain.RoutingPatterns {
		patterns[i] = b.prefix + p
	}
	sub := b.client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	// wait for the subscription to be confirmed before reporting readiness
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis bus: subscribe: %w", err)
	}
	log.Printf("redis bus: subscribed to %v", patterns)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis bus: subscription closed")
			}
			evt, err := domain.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				log.Printf("redis bus: drop message on %s: %v", msg.Channel, err)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				log.Printf("redis bus: handle %s: %v", evt.RoutingKey, err)
			}
		}
	}
}

// Close is a no-op; the client is owned by the caller.
func (b *EventBus) Close() error { return nil }
