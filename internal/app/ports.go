package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionStore abstracts the shared session state (in-memory or Redis).
// Every operation that affects scoring or idempotency must be atomic per session.
type SessionStore interface {
	// Create inserts a lobby session. It reports false when code is already taken.
	Create(ctx context.Context, code, quizID string) (bool, error)
	Exists(ctx context.Context, code string) (bool, error)
	// Info returns domain.ErrSessionNotFound when the session is absent or expired.
	Info(ctx context.Context, code string) (domain.Session, error)
	Status(ctx context.Context, code string) (domain.Status, error)
	// TransitionStatus moves from -> to only if the session is still in from.
	TransitionStatus(ctx context.Context, code string, from, to domain.Status) (bool, error)
	// SetCurrentIndex stores index and a fresh deadline computed from timeLimitSeconds.
	SetCurrentIndex(ctx context.Context, code string, index, timeLimitSeconds int) (time.Time, error)
	// AdvanceIndex moves from -> from+1 only while running at from.
	AdvanceIndex(ctx context.Context, code string, from, timeLimitSeconds int) (time.Time, bool, error)
	// ClaimHost binds playerID as host if no host is bound yet and returns the bound host.
	ClaimHost(ctx context.Context, code, playerID string) (string, bool, error)

	KnownPlayer(ctx context.Context, code, playerID string) (bool, error)
	// AddPlayer adds to the roster and initializes the score if absent.
	AddPlayer(ctx context.Context, code string, player domain.Player) error
	RemovePlayer(ctx context.Context, code, playerID string) error
	Players(ctx context.Context, code string) ([]domain.Player, error)
	PlayerCount(ctx context.Context, code string) (int, error)
	// PlayerNames includes players that already left.
	PlayerNames(ctx context.Context, code string) (map[string]string, error)

	Scores(ctx context.Context, code string) (map[string]int, error)
	IncrementScore(ctx context.Context, code, playerID string, delta int) (int, error)

	StoreQuizSnapshot(ctx context.Context, code string, snap domain.QuizSnapshot) error
	PublicSnapshot(ctx context.Context, code string) (domain.QuizPublicSnapshot, bool, error)
	Question(ctx context.Context, code string, index int) (domain.PublicQuestion, bool, error)

	// SaveAndCheckAnswer is the idempotency gate: at most one scored answer per player and question.
	SaveAndCheckAnswer(ctx context.Context, code string, index int, playerID string, payload domain.AnswerPayload) (domain.AnswerResult, error)
	AnsweredPlayers(ctx context.Context, code string, index int) ([]string, error)
}

// QuizFetcher provides validated quiz snapshots.
type QuizFetcher interface {
	FetchSnapshot(ctx context.Context, quizID string) (domain.QuizSnapshot, error)
	ExistsAndPublished(ctx context.Context, quizID string) (bool, error)
}

// EventPublisher sends advisory events. Callers treat failures as non-fatal.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// EventHandler processes one consumed event. Returning domain.ErrMalformedEvent
// asks the bus to drop the message without redelivery.
type EventHandler func(ctx context.Context, evt domain.Event) error

// EventConsumer blocks delivering events to handler until ctx ends or the
// connection is lost.
type EventConsumer interface {
	Consume(ctx context.Context, handler EventHandler) error
}

// EventBus is implemented by the memory, Redis and AMQP buses.
type EventBus interface {
	EventPublisher
	EventConsumer
	Close() error
}

// Conn is one client connection as seen by the orchestrator.
type Conn interface {
	Send(event string, payload any)
}

// Groups tracks the local connections of each session.
type Groups interface {
	Join(code string, c Conn)
	Leave(code string, c Conn)
	Broadcast(code, event string, payload any)
}
