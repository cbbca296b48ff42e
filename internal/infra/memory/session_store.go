package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionStore is an in-process implementation of app.SessionStore for single
// instance runs and tests. One mutex serializes all sessions, which gives the
// same per-session atomicity the Redis scripts provide.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	info      domain.Session
	expiresAt time.Time
	roster    map[string]string
	names     map[string]string
	scores    map[string]int
	public    *domain.QuizPublicSnapshot
	correct   *domain.QuizCorrectSnapshot
	answers   map[int]map[string]domain.AnswerPayload
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return NewSessionStoreWithClock(ttl, time.Now)
}

// NewSessionStoreWithClock is test-only for deterministic deadlines and expiry.
func NewSessionStoreWithClock(ttl time.Duration, now func() time.Time) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		now:      now,
		sessions: make(map[string]*sessionState),
	}
}

// getLocked returns a live session. Expired sessions are dropped.
func (s *SessionStore) getLocked(code string) (*sessionState, bool) {
	st, ok := s.sessions[code]
	if !ok {
		return nil, false
	}
	if s.expired(st, s.now()) {
		delete(s.sessions, code)
		return nil, false
	}
	return st, true
}

func (s *SessionStore) expired(st *sessionState, now time.Time) bool {
	return s.ttl > 0 && now.After(st.expiresAt)
}

// sweepLocked drops every expired session, including codes nobody looks up again.
func (s *SessionStore) sweepLocked() {
	now := s.now()
	for code, st := range s.sessions {
		if s.expired(st, now) {
			delete(s.sessions, code)
		}
	}
}

func (s *SessionStore) touchLocked(st *sessionState) {
	if s.ttl > 0 {
		st.expiresAt = s.now().Add(s.ttl)
	}
}

func (s *SessionStore) Create(_ context.Context, code, quizID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	if _, ok := s.sessions[code]; ok {
		return false, nil
	}
	st := &sessionState{
		info: domain.Session{
			Code:         code,
			QuizID:       quizID,
			Status:       domain.StatusLobby,
			CurrentIndex: -1,
			HostID:       domain.PendingHost,
			CreatedAt:    s.now().UTC(),
		},
		roster:  make(map[string]string),
		names:   make(map[string]string),
		scores:  make(map[string]int),
		answers: make(map[int]map[string]domain.AnswerPayload),
	}
	s.touchLocked(st)
	s.sessions[code] = st
	return true, nil
}

func (s *SessionStore) Exists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.getLocked(code)
	return ok, nil
}

func (s *SessionStore) Info(_ context.Context, code string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return st.info, nil
}

func (s *SessionStore) Status(ctx context.Context, code string) (domain.Status, error) {
	info, err := s.Info(ctx, code)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

func (s *SessionStore) TransitionStatus(_ context.Context, code string, from, to domain.Status) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if st.info.Status != from {
		return false, nil
	}
	st.info.Status = to
	s.touchLocked(st)
	return true, nil
}

func (s *SessionStore) SetCurrentIndex(_ context.Context, code string, index, timeLimitSeconds int) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return time.Time{}, domain.ErrSessionNotFound
	}
	deadline := s.deadline(timeLimitSeconds)
	st.info.CurrentIndex = index
	st.info.QuestionDeadline = deadline
	s.touchLocked(st)
	return deadline, nil
}

func (s *SessionStore) AdvanceIndex(_ context.Context, code string, from, timeLimitSeconds int) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return time.Time{}, false, domain.ErrSessionNotFound
	}
	if st.info.Status != domain.StatusRunning || st.info.CurrentIndex != from {
		return time.Time{}, false, nil
	}
	deadline := s.deadline(timeLimitSeconds)
	st.info.CurrentIndex = from + 1
	st.info.QuestionDeadline = deadline
	s.touchLocked(st)
	return deadline, true, nil
}

// deadline truncates to milliseconds, the resolution the Redis store keeps.
func (s *SessionStore) deadline(timeLimitSeconds int) time.Time {
	return s.now().Add(time.Duration(timeLimitSeconds) * time.Second).Truncate(time.Millisecond).UTC()
}

func (s *SessionStore) ClaimHost(_ context.Context, code, playerID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return "", false, domain.ErrSessionNotFound
	}
	if st.info.HostID != domain.PendingHost {
		return st.info.HostID, false, nil
	}
	st.info.HostID = playerID
	s.touchLocked(st)
	return playerID, true, nil
}

func (s *SessionStore) KnownPlayer(_ context.Context, code, playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	_, known := st.names[playerID]
	return known, nil
}

func (s *SessionStore) AddPlayer(_ context.Context, code string, player domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return domain.ErrSessionNotFound
	}
	st.roster[player.ID] = player.DisplayName
	st.names[player.ID] = player.DisplayName
	if _, ok := st.scores[player.ID]; !ok {
		st.scores[player.ID] = 0
	}
	s.touchLocked(st)
	return nil
}

func (s *SessionStore) RemovePlayer(_ context.Context, code, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return domain.ErrSessionNotFound
	}
	delete(st.roster, playerID)
	s.touchLocked(st)
	return nil
}

func (s *SessionStore) Players(_ context.Context, code string) ([]domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	players := make([]domain.Player, 0, len(st.roster))
	for id, name := range st.roster {
		players = append(players, domain.Player{ID: id, DisplayName: name})
	}
	sortPlayers(players)
	return players, nil
}

func (s *SessionStore) PlayerCount(_ context.Context, code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	return len(st.roster), nil
}

func (s *SessionStore) PlayerNames(_ context.Context, code string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make(map[string]string, len(st.names))
	for id, name := range st.names {
		out[id] = name
	}
	return out, nil
}

func (s *SessionStore) Scores(_ context.Context, code string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make(map[string]int, len(st.scores))
	for id, score := range st.scores {
		out[id] = score
	}
	return out, nil
}

func (s *SessionStore) IncrementScore(_ context.Context, code, playerID string, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("%w: negative score delta", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	st.scores[playerID] += delta
	s.touchLocked(st)
	return st.scores[playerID], nil
}

func (s *SessionStore) StoreQuizSnapshot(_ context.Context, code string, snap domain.QuizSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return domain.ErrSessionNotFound
	}
	public := snap.Public
	correct := snap.Correct
	st.public = &public
	st.correct = &correct
	st.info.TotalQuestions = len(snap.Public.Questions)
	s.touchLocked(st)
	return nil
}

func (s *SessionStore) PublicSnapshot(_ context.Context, code string) (domain.QuizPublicSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return domain.QuizPublicSnapshot{}, false, domain.ErrSessionNotFound
	}
	if st.public == nil {
		return domain.QuizPublicSnapshot{}, false, nil
	}
	return *st.public, true, nil
}

func (s *SessionStore) Question(ctx context.Context, code string, index int) (domain.PublicQuestion, bool, error) {
	snap, ok, err := s.PublicSnapshot(ctx, code)
	if err != nil || !ok {
		return domain.PublicQuestion{}, false, err
	}
	if index < 0 || index >= len(snap.Questions) {
		return domain.PublicQuestion{}, false, nil
	}
	return snap.Questions[index], true, nil
}

func (s *SessionStore) SaveAndCheckAnswer(_ context.Context, code string, index int, playerID string, payload domain.AnswerPayload) (domain.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return domain.AnswerResult{}, domain.ErrSessionNotFound
	}
	if st.info.Status != domain.StatusRunning || st.info.CurrentIndex != index || st.correct == nil || index >= len(st.correct.Questions) {
		return domain.AnswerResult{}, domain.ErrQuestionMismatch
	}
	if s.now().Truncate(time.Millisecond).After(st.info.QuestionDeadline) {
		return domain.AnswerResult{Expired: true, Score: st.scores[playerID]}, nil
	}
	answered := st.answers[index]
	if _, dup := answered[playerID]; dup {
		return domain.AnswerResult{AlreadyAnswered: true, Score: st.scores[playerID]}, nil
	}

	correct, points, err := domain.Score(st.correct.Questions[index], payload)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if answered == nil {
		answered = make(map[string]domain.AnswerPayload)
		st.answers[index] = answered
	}
	answered[playerID] = payload
	st.scores[playerID] += points
	s.touchLocked(st)
	return domain.AnswerResult{
		IsCorrect:    correct,
		PointsEarned: points,
		Score:        st.scores[playerID],
	}, nil
}

func (s *SessionStore) AnsweredPlayers(_ context.Context, code string, index int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.getLocked(code)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	ids := make([]string, 0, len(st.answers[index]))
	for id := range st.answers[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func sortPlayers(players []domain.Player) {
	sort.Slice(players, func(i, j int) bool {
		if players[i].DisplayName != players[j].DisplayName {
			return players[i].DisplayName < players[j].DisplayName
		}
		return players[i].ID < players[j].ID
	})
}
