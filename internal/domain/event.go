package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Advisory routing keys. The bus never carries authoritative state.
const (
	KeyPlayerJoined        = "player.joined"
	KeyPlayerLeft          = "player.left"
	KeySessionStarted      = "session.started"
	KeySessionEnded        = "session.ended"
	KeyQuestionStarted     = "question.started"
	KeyQuestionEnded       = "question.ended"
	KeyQuestionAllAnswered = "question.all_answered"
	KeyAnswerSubmitted     = "answer.submitted"
	KeyScoreUpdated        = "score.updated"
)

// Client event names sent over the gateway.
const (
	EventJoined          = "joined"
	EventLobbyUpdate     = "lobbyUpdate"
	EventSessionStarted  = "sessionStarted"
	EventQuestionStarted = "questionStarted"
	EventQuestionEnded   = "questionEnded"
	EventAnswerAck       = "answerAck"
	EventLeaderboard     = "leaderboard"
	EventSessionEnded    = "sessionEnded"
	EventSessionState    = "sessionState"
	EventBroker          = "brokerEvent"
	EventError           = "error"
)

// RoutingPatterns are the topic patterns each relay subscribes to.
var RoutingPatterns = []string{"player.*", "session.*", "question.*", "answer.*", "score.*"}

// fanoutKeys maps group broadcasts to the routing key used to mirror them on other instances.
var fanoutKeys = map[string]string{
	EventLobbyUpdate:     "player.roster",
	EventSessionStarted:  "session.snapshot",
	EventQuestionStarted: "question.pushed",
	EventQuestionEnded:   "question.results",
	EventLeaderboard:     "score.leaderboard",
	EventSessionEnded:    "session.final",
}

// FanoutKey returns the routing key for a group broadcast of clientEvent.
func FanoutKey(clientEvent string) (string, bool) {
	key, ok := fanoutKeys[clientEvent]
	return key, ok
}

// Event is the bus envelope. Deliver is set for mirrored group broadcasts and
// empty for advisory events, which are relayed as brokerEvent.
type Event struct {
	RoutingKey  string          `json:"routingKey"`
	SessionCode string          `json:"sessionCode"`
	Origin      string          `json:"origin"`
	Deliver     string          `json:"deliver,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	At          time.Time       `json:"at"`
}

// NewEvent marshals payload into an envelope.
func NewEvent(routingKey, code, origin string, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		RoutingKey:  routingKey,
		SessionCode: code,
		Origin:      origin,
		Payload:     raw,
		At:          at.UTC(),
	}, nil
}

// BrokerEvent is what local members receive for a relayed advisory event.
type BrokerEvent struct {
	RoutingKey string          `json:"routingKey"`
	Payload    json.RawMessage `json:"payload"`
}

// DecodeEvent parses a bus message body and checks the fields a relay needs.
func DecodeEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, ErrMalformedEvent
	}
	if evt.RoutingKey == "" || evt.SessionCode == "" {
		return Event{}, ErrMalformedEvent
	}
	return evt, nil
}

// Routable reports whether key falls under one of RoutingPatterns.
func Routable(key string) bool {
	for _, pattern := range RoutingPatterns {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) && !strings.Contains(key[len(prefix):], ".") {
			return true
		}
	}
	return false
}
