package app

import (
	"time"

	"live-quiz-service/internal/domain"
)

// Client payloads. Field names are the wire contract of the gateway.

type PlayerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsHost      bool   `json:"isHost"`
}

type JoinedPayload struct {
	SessionCode string        `json:"sessionCode"`
	PlayerID    string        `json:"playerId"`
	DisplayName string        `json:"displayName"`
	IsHost      bool          `json:"isHost"`
	Status      domain.Status `json:"status"`
}

type LobbyPayload struct {
	SessionCode string       `json:"sessionCode"`
	Players     []PlayerView `json:"players"`
	PlayerCount int          `json:"playerCount"`
}

type SessionStartedPayload struct {
	SessionCode    string                    `json:"sessionCode"`
	TotalQuestions int                       `json:"totalQuestions"`
	Quiz           domain.QuizPublicSnapshot `json:"quiz"`
}

type QuestionPayload struct {
	SessionCode      string                `json:"sessionCode"`
	QuestionIndex    int                   `json:"questionIndex"`
	TotalQuestions   int                   `json:"totalQuestions"`
	TimeLimitSeconds int                   `json:"timeLimitSeconds"`
	Question         domain.PublicQuestion `json:"question"`
	DeadlineUTC      time.Time             `json:"deadlineUtc"`
	ServerTime       time.Time             `json:"serverTime"`
}

type QuestionEndedPayload struct {
	SessionCode   string                    `json:"sessionCode"`
	QuestionIndex int                       `json:"questionIndex"`
	Leaderboard   []domain.LeaderboardEntry `json:"leaderboard"`
}

type LeaderboardPayload struct {
	SessionCode string                    `json:"sessionCode"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

type AnswerAck struct {
	QuestionIndex   int  `json:"questionIndex"`
	IsCorrect       bool `json:"isCorrect"`
	PointsEarned    int  `json:"pointsEarned"`
	AlreadyAnswered bool `json:"alreadyAnswered"`
	Expired         bool `json:"expired"`
	YourScore       int  `json:"yourScore"`
}

type SessionStatePayload struct {
	SessionCode     string                     `json:"sessionCode"`
	Status          domain.Status              `json:"status"`
	CurrentIndex    int                        `json:"currentIndex"`
	TotalQuestions  int                        `json:"totalQuestions"`
	Quiz            *domain.QuizPublicSnapshot `json:"quiz,omitempty"`
	CurrentQuestion *domain.PublicQuestion     `json:"currentQuestion,omitempty"`
	DeadlineUTC     *time.Time                 `json:"deadlineUtc,omitempty"`
	Leaderboard     []domain.LeaderboardEntry  `json:"leaderboard"`
	Players         []PlayerView               `json:"players"`
	PlayerCount     int                        `json:"playerCount"`
	ServerTime      time.Time                  `json:"serverTime"`
}

// ErrorPayload is sent as the "error" event for a failed operation.
type ErrorPayload struct {
	Code    string           `json:"code"`
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// NewErrorPayload classifies err for the caller. Internal errors hide their cause.
func NewErrorPayload(err error) ErrorPayload {
	kind := domain.Classify(err)
	msg := err.Error()
	if kind == domain.KindInternal {
		msg = "internal error"
	}
	return ErrorPayload{Code: domain.ErrorCode(err), Kind: kind, Message: msg}
}

// Advisory payloads carried on the bus.

type playerEvent struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName,omitempty"`
	PlayerCount int    `json:"playerCount"`
}

type sessionEvent struct {
	QuizID         string `json:"quizId,omitempty"`
	TotalQuestions int    `json:"totalQuestions"`
}

type questionEvent struct {
	QuestionIndex int        `json:"questionIndex"`
	DeadlineUTC   *time.Time `json:"deadlineUtc,omitempty"`
}

type answerEvent struct {
	PlayerID      string `json:"playerId"`
	QuestionIndex int    `json:"questionIndex"`
}

type scoreEvent struct {
	PlayerID     string `json:"playerId"`
	PointsEarned int    `json:"pointsEarned"`
	Score        int    `json:"score"`
}

// SessionInfo is the REST view of a session.
type SessionInfo struct {
	SessionCode    string                    `json:"sessionCode"`
	QuizID         string                    `json:"quizId"`
	Status         domain.Status             `json:"status"`
	CurrentIndex   int                       `json:"currentIndex"`
	TotalQuestions int                       `json:"totalQuestions"`
	PlayerCount    int                       `json:"playerCount"`
	Leaderboard    []domain.LeaderboardEntry `json:"leaderboard"`
	CreatedAt      time.Time                 `json:"createdAt"`
}

// CreatedSession is returned by CreateSession.
type CreatedSession struct {
	SessionCode string    `json:"sessionCode"`
	QuizID      string    `json:"quizId"`
	HubURL      string    `json:"hubUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

// JoinResult identifies the caller after a successful join.
type JoinResult struct {
	Code     string
	PlayerID string
	IsHost   bool
}
