package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// ErrBusClosed is returned by Publish and Consume after Close.
var ErrBusClosed = errors.New("event bus closed")

// EventBus is an in-process pub/sub. Every Consume call gets its own
// subscription, like an exclusive queue per instance on a real broker.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	closed bool
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan []byte]struct{})}
}

func (b *EventBus) Publish(_ context.Context, evt domain.Event) error {
	if !domain.Routable(evt.RoutingKey) {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	return nil
}

// Consume delivers events to handler until ctx is done or the bus is closed.
func (b *EventBus) Consume(ctx context.Context, handler app.EventHandler) error {
	ch, err := b.subscribe()
	if err != nil {
		return err
	}
	defer b.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return ErrBusClosed
			}
			evt, err := domain.DecodeEvent(data)
			if err != nil {
				log.Printf("memory bus: drop message: %v", err)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				log.Printf("memory bus: handle %s: %v", evt.RoutingKey, err)
			}
		}
	}
}

// Subscribers reports the number of active consumers.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
	return nil
}

func (b *EventBus) subscribe() (chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	ch := make(chan []byte, 64)
	b.subs[ch] = struct{}{}
	return ch, nil
}

func (b *EventBus) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
