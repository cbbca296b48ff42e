package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the lifecycle state of a live session.
type Status string

const (
	StatusLobby   Status = "lobby"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

// rank orders statuses so transitions can be checked for monotonicity.
func (s Status) rank() int {
	switch s {
	case StatusLobby:
		return 0
	case StatusRunning:
		return 1
	case StatusEnded:
		return 2
	}
	return -1
}

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool { return s.rank() >= 0 }

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
func (s Status) CanTransition(next Status) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// PendingHost is the hostId placeholder until the first joiner claims the session.
const PendingHost = "__pending__"

// Session is the canonical session record held by the store.
type Session struct {
	Code             string    `json:"sessionCode"`
	QuizID           string    `json:"quizId"`
	Status           Status    `json:"status"`
	CurrentIndex     int       `json:"currentIndex"`
	TotalQuestions   int       `json:"totalQuestions"`
	HostID           string    `json:"-"`
	QuestionDeadline time.Time `json:"questionDeadline"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Player is a roster entry.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// LeaderboardEntry is the derived score view of one player.
type LeaderboardEntry struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// AnswerResult summarizes the outcome of saveAndCheckAnswer.
type AnswerResult struct {
	IsCorrect       bool `json:"isCorrect"`
	PointsEarned    int  `json:"pointsEarned"`
	AlreadyAnswered bool `json:"alreadyAnswered"`
	Expired         bool `json:"expired"`
	// Score is the player's total after the submission.
	Score int `json:"score"`
}

// MaxDisplayNameLength bounds display names in runes.
const MaxDisplayNameLength = 40

// CleanDisplayName trims name and checks it is non-empty and not too long.
func CleanDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: displayName required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", fmt.Errorf("%w: displayName longer than %d characters", ErrInvalidInput, MaxDisplayNameLength)
	}
	return name, nil
}
