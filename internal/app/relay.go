package app

import (
	"context"
	"log"
	"time"

	"live-quiz-service/internal/domain"
)

const defaultRelayBackoff = 5 * time.Second

// Relay re-broadcasts bus events to the local members of each session group.
type Relay struct {
	bus        EventConsumer
	groups     Groups
	instanceID string
	backoff    time.Duration
}

func NewRelay(bus EventConsumer, groups Groups, instanceID string, backoff time.Duration) *Relay {
	if backoff <= 0 {
		backoff = defaultRelayBackoff
	}
	return &Relay{bus: bus, groups: groups, instanceID: instanceID, backoff: backoff}
}

// Run consumes until ctx is cancelled, reconnecting after a fixed backoff.
func (r *Relay) Run(ctx context.Context) error {
	for {
		err := r.bus.Consume(ctx, r.Handle)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("relay: consumer stopped: %v; retrying in %s", err, r.backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.backoff):
		}
	}
}

// Handle delivers one event. Mirrored broadcasts from this instance were
// already delivered locally and are skipped.
func (r *Relay) Handle(_ context.Context, evt domain.Event) error {
	if evt.SessionCode == "" || evt.RoutingKey == "" {
		return domain.ErrMalformedEvent
	}
	if evt.Deliver != "" {
		if evt.Origin == r.instanceID {
			return nil
		}
		r.groups.Broadcast(evt.SessionCode, evt.Deliver, evt.Payload)
		return nil
	}
	r.groups.Broadcast(evt.SessionCode, domain.EventBroker, domain.BrokerEvent{
		RoutingKey: evt.RoutingKey,
		Payload:    evt.Payload,
	})
	return nil
}
