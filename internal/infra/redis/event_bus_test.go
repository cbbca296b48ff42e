package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"live-quiz-service/internal/domain"
)

func TestEventBusDeliversToEverySubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	defer client.Close()
	bus := NewEventBus(client, "livequiz:")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type delivery struct {
		consumer int
		evt      domain.Event
	}
	got := make(chan delivery, 64)
	for i := 0; i < 2; i++ {
		go func(consumer int) {
			_ = bus.Consume(ctx, func(_ context.Context, evt domain.Event) error {
				got <- delivery{consumer: consumer, evt: evt}
				return nil
			})
		}(i)
	}

	evt, _ := domain.NewEvent(domain.KeyQuestionAllAnswered, "ABC234", "node-a", map[string]int{"questionIndex": 0}, time.Now())
	seen := map[int]bool{}
	// subscriptions start asynchronously, so keep publishing until both consumers saw one
	publishUntil(t, func() bool { return len(seen) == 2 }, func() {
		if err := bus.Publish(ctx, evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}, func() {
		for {
			select {
			case d := <-got:
				if d.evt.RoutingKey != domain.KeyQuestionAllAnswered || d.evt.SessionCode != "ABC234" || d.evt.Origin != "node-a" {
					t.Fatalf("unexpected event %+v", d.evt)
				}
				seen[d.consumer] = true
			default:
				return
			}
		}
	})
}

func TestEventBusSkipsMalformedMessages(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	defer client.Close()
	bus := NewEventBus(client, "livequiz:")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan domain.Event, 64)
	go func() {
		_ = bus.Consume(ctx, func(_ context.Context, evt domain.Event) error {
			got <- evt
			return nil
		})
	}()

	evt, _ := domain.NewEvent(domain.KeyPlayerJoined, "ABC234", "node-a", nil, time.Now())
	var received bool
	publishUntil(t, func() bool { return received }, func() {
		mr.Publish("livequiz:player.joined", "not json")
		mr.Publish("livequiz:player.left", `{"routingKey":"player.left"}`)
		_ = bus.Publish(ctx, evt)
	}, func() {
		for {
			select {
			case e := <-got:
				if e.SessionCode != "ABC234" || e.RoutingKey != domain.KeyPlayerJoined {
					t.Fatalf("malformed message reached the handler: %+v", e)
				}
				received = true
			default:
				return
			}
		}
	})
}

func publishUntil(t *testing.T, done func() bool, publish func(), drain func()) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		publish()
		time.Sleep(20 * time.Millisecond)
		drain()
		if done() {
			return
		}
	}
	t.Fatalf("events not delivered in time")
}
