package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// EventBus publishes to a durable topic exchange. Each Consume call declares an
// exclusive, auto-deleted queue bound to every routing pattern, so each
// instance receives its own copy and nothing outlives the consumer.
type EventBus struct {
	url      string
	exchange string
	prefetch int

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewEventBus(url, exchange string, prefetch int) *EventBus {
	if prefetch <= 0 {
		prefetch = 50
	}
	return &EventBus{url: url, exchange: exchange, prefetch: prefetch}
}

// Publish reuses one channel and redials after the connection drops.
func (b *EventBus) Publish(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ch, err := b.publishChannelLocked()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, b.exchange, evt.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.At,
		Body:         body,
	})
	if err != nil {
		b.resetLocked()
		return fmt.Errorf("amqp bus: publish %s: %w", evt.RoutingKey, err)
	}
	return nil
}

func (b *EventBus) publishChannelLocked() (*amqp.Channel, error) {
	if b.ch != nil && !b.ch.IsClosed() && b.conn != nil && !b.conn.IsClosed() {
		return b.ch, nil
	}
	b.resetLocked()
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("amqp bus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp bus: channel: %w", err)
	}
	if err := b.declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	b.conn, b.ch = conn, ch
	return ch, nil
}

func (b *EventBus) resetLocked() {
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn, b.ch = nil, nil
}

func (b *EventBus) declareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(b.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp bus: declare exchange %s: %w", b.exchange, err)
	}
	return nil
}

// Consume owns its connection and returns when ctx ends or the broker goes away.
// Messages that cannot be decoded or handled are rejected without requeue.
func (b *EventBus) Consume(ctx context.Context, handler app.EventHandler) error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("amqp bus: dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp bus: channel: %w", err)
	}
	if err := b.declareExchange(ch); err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("amqp bus: declare queue: %w", err)
	}
	for _, pattern := range domain.RoutingPatterns {
		if err := ch.QueueBind(q.Name, pattern, b.exchange, false, nil); err != nil {
			return fmt.Errorf("amqp bus: bind %s: %w", pattern, err)
		}
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp bus: qos: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp bus: consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	log.Printf("amqp bus: consuming %s on %v", q.Name, domain.RoutingPatterns)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("amqp bus: connection closed")
			}
			return fmt.Errorf("amqp bus: connection closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp bus: delivery channel closed")
			}
			b.deliver(ctx, d, handler)
		}
	}
}

func (b *EventBus) deliver(ctx context.Context, d amqp.Delivery, handler app.EventHandler) {
	evt, err := domain.DecodeEvent(d.Body)
	if err == nil {
		err = handler(ctx, evt)
	}
	if err != nil {
		log.Printf("amqp bus: reject %s: %v", d.RoutingKey, err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	return nil
}
