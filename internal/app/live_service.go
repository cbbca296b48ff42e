package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

const (
	defaultPublishTimeout = 2 * time.Second
	maxCodeAttempts       = 10
)

// LiveService orchestrates live sessions. It keeps no per-session state of its
// own: the store is authoritative and the bus only mirrors broadcasts.
type LiveService struct {
	store          SessionStore
	quizzes        QuizFetcher
	bus            EventPublisher
	groups         Groups
	now            func() time.Time
	instanceID     string
	hubURL         string
	publishTimeout time.Duration
}

// Option customizes a LiveService.
type Option func(*LiveService)

// WithClock is used by tests for deterministic deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *LiveService) { s.now = now }
}

// WithInstanceID names this process on the bus so it can skip its own broadcasts.
func WithInstanceID(id string) Option {
	return func(s *LiveService) { s.instanceID = id }
}

// WithHubURL sets the WebSocket URL handed out by CreateSession.
func WithHubURL(url string) Option {
	return func(s *LiveService) { s.hubURL = url }
}

// WithPublishTimeout bounds each bus publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *LiveService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func NewLiveService(store SessionStore, quizzes QuizFetcher, bus EventPublisher, groups Groups, opts ...Option) *LiveService {
	s := &LiveService{
		store:          store,
		quizzes:        quizzes,
		bus:            bus,
		groups:         groups,
		now:            time.Now,
		instanceID:     uuid.NewString(),
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstanceID identifies this process on the bus.
func (s *LiveService) InstanceID() string { return s.instanceID }

// CreateSession validates the quiz and allocates a fresh session code.
func (s *LiveService) CreateSession(ctx context.Context, quizID string) (CreatedSession, error) {
	quizID = strings.TrimSpace(quizID)
	if quizID == "" {
		return CreatedSession{}, fmt.Errorf("%w: quizId required", domain.ErrInvalidInput)
	}
	ok, err := s.quizzes.ExistsAndPublished(ctx, quizID)
	if err != nil {
		return CreatedSession{}, err
	}
	if !ok {
		return CreatedSession{}, fmt.Errorf("%w: quiz %s not found or not published", domain.ErrQuizNotPublished, quizID)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := domain.NewSessionCode()
		if err != nil {
			return CreatedSession{}, err
		}
		created, err := s.store.Create(ctx, code, quizID)
		if err != nil {
			return CreatedSession{}, err
		}
		if created {
			log.Printf("live: session %s created for quiz %s", code, quizID)
			return CreatedSession{
				SessionCode: code,
				QuizID:      quizID,
				HubURL:      s.hubURL,
				CreatedAt:   s.now().UTC(),
			}, nil
		}
	}
	return CreatedSession{}, fmt.Errorf("allocate session code: %d collisions", maxCodeAttempts)
}

// SessionInfo returns the public summary of a session.
func (s *LiveService) SessionInfo(ctx context.Context, code string) (SessionInfo, error) {
	code = domain.SanitizeCode(code)
	info, err := s.store.Info(ctx, code)
	if err != nil {
		return SessionInfo{}, err
	}
	count, err := s.store.PlayerCount(ctx, code)
	if err != nil {
		return SessionInfo{}, err
	}
	board, err := s.leaderboard(ctx, code)
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{
		SessionCode:    info.Code,
		QuizID:         info.QuizID,
		Status:         info.Status,
		CurrentIndex:   info.CurrentIndex,
		TotalQuestions: info.TotalQuestions,
		PlayerCount:    count,
		Leaderboard:    board,
		CreatedAt:      info.CreatedAt,
	}, nil
}

// Join registers the caller in the session roster and group. A known
// resumePlayerID keeps the player's score and, if it was the host, the host role.
func (s *LiveService) Join(ctx context.Context, conn Conn, code, displayName, resumePlayerID string) (JoinResult, error) {
	code = domain.SanitizeCode(code)
	name, err := domain.CleanDisplayName(displayName)
	if err != nil {
		return JoinResult{}, err
	}
	info, err := s.store.Info(ctx, code)
	if err != nil {
		return JoinResult{}, err
	}
	if info.Status == domain.StatusEnded {
		return JoinResult{}, domain.ErrSessionEnded
	}

	playerID := ""
	if resumePlayerID = strings.TrimSpace(resumePlayerID); resumePlayerID != "" {
		known, err := s.store.KnownPlayer(ctx, code, resumePlayerID)
		if err != nil {
			return JoinResult{}, err
		}
		if known {
			playerID = resumePlayerID
		}
	}
	if playerID == "" {
		playerID = uuid.NewString()
	}

	player := domain.Player{ID: playerID, DisplayName: name}
	if err := s.store.AddPlayer(ctx, code, player); err != nil {
		return JoinResult{}, err
	}
	host, _, err := s.store.ClaimHost(ctx, code, playerID)
	if err != nil {
		return JoinResult{}, err
	}
	isHost := host == playerID

	s.groups.Join(code, conn)
	conn.Send(domain.EventJoined, JoinedPayload{
		SessionCode: code,
		PlayerID:    playerID,
		DisplayName: name,
		IsHost:      isHost,
		Status:      info.Status,
	})

	lobby, err := s.lobby(ctx, code, host)
	if err != nil {
		return JoinResult{}, err
	}
	s.publish(ctx, code, domain.KeyPlayerJoined, playerEvent{PlayerID: playerID, DisplayName: name, PlayerCount: lobby.PlayerCount})
	s.broadcast(ctx, code, domain.EventLobbyUpdate, lobby)

	if info.Status == domain.StatusRunning {
		if err := s.catchUp(ctx, conn, info); err != nil {
			return JoinResult{}, err
		}
	}
	return JoinResult{Code: code, PlayerID: playerID, IsHost: isHost}, nil
}

// catchUp sends a late joiner the quiz and the question in flight.
func (s *LiveService) catchUp(ctx context.Context, conn Conn, info domain.Session) error {
	snap, ok, err := s.store.PublicSnapshot(ctx, info.Code)
	if err != nil || !ok {
		return err
	}
	conn.Send(domain.EventSessionStarted, SessionStartedPayload{
		SessionCode:    info.Code,
		TotalQuestions: info.TotalQuestions,
		Quiz:           snap,
	})
	question, ok, err := s.store.Question(ctx, info.Code, info.CurrentIndex)
	if err != nil || !ok {
		return err
	}
	conn.Send(domain.EventQuestionStarted, s.questionPayload(info.Code, info.CurrentIndex, info.TotalQuestions, snap.TimeLimitSeconds, question, info.QuestionDeadline))
	return nil
}

// Start fetches the quiz, snapshots it into the store and pushes question 0.
func (s *LiveService) Start(ctx context.Context, code, playerID string) error {
	code = domain.SanitizeCode(code)
	info, err := s.hostSession(ctx, code, playerID)
	if err != nil {
		return err
	}
	if info.Status != domain.StatusLobby {
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidState, info.Status)
	}

	snap, err := s.quizzes.FetchSnapshot(ctx, info.QuizID)
	if err != nil {
		return err
	}
	if len(snap.Public.Questions) == 0 {
		return domain.ErrQuizEmpty
	}
	if err := s.store.StoreQuizSnapshot(ctx, code, snap); err != nil {
		return err
	}
	ok, err := s.store.TransitionStatus(ctx, code, domain.StatusLobby, domain.StatusRunning)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: session already started", domain.ErrInvalidState)
	}
	deadline, err := s.store.SetCurrentIndex(ctx, code, 0, snap.Public.TimeLimitSeconds)
	if err != nil {
		return err
	}
	total := len(snap.Public.Questions)
	log.Printf("live: session %s started with %d questions", code, total)

	s.publish(ctx, code, domain.KeySessionStarted, sessionEvent{QuizID: info.QuizID, TotalQuestions: total})
	s.broadcast(ctx, code, domain.EventSessionStarted, SessionStartedPayload{
		SessionCode:    code,
		TotalQuestions: total,
		Quiz:           snap.Public,
	})
	s.pushQuestion(ctx, code, 0, total, snap.Public.TimeLimitSeconds, snap.Public.Questions[0], deadline)
	return nil
}

// Next closes the current question and either pushes the next one or ends the session.
func (s *LiveService) Next(ctx context.Context, code, playerID string) error {
	code = domain.SanitizeCode(code)
	info, err := s.hostSession(ctx, code, playerID)
	if err != nil {
		return err
	}
	if info.Status != domain.StatusRunning {
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidState, info.Status)
	}

	current := info.CurrentIndex
	if current+1 >= info.TotalQuestions {
		ok, err := s.store.TransitionStatus(ctx, code, domain.StatusRunning, domain.StatusEnded)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSessionEnded
		}
		if err := s.questionEnded(ctx, code, current); err != nil {
			return err
		}
		return s.finish(ctx, code)
	}

	snap, ok, err := s.store.PublicSnapshot(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: quiz snapshot missing", domain.ErrInvalidState)
	}
	deadline, advanced, err := s.store.AdvanceIndex(ctx, code, current, snap.TimeLimitSeconds)
	if err != nil {
		return err
	}
	if !advanced {
		return fmt.Errorf("%w: question %d already closed", domain.ErrInvalidState, current)
	}
	if err := s.questionEnded(ctx, code, current); err != nil {
		return err
	}
	next := current + 1
	s.pushQuestion(ctx, code, next, info.TotalQuestions, snap.TimeLimitSeconds, snap.Questions[next], deadline)
	return nil
}

// End closes the session from lobby or running.
func (s *LiveService) End(ctx context.Context, code, playerID string) error {
	code = domain.SanitizeCode(code)
	info, err := s.hostSession(ctx, code, playerID)
	if err != nil {
		return err
	}
	ok, err := s.store.TransitionStatus(ctx, code, info.Status, domain.StatusEnded)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionEnded
	}
	return s.finish(ctx, code)
}

// SubmitAnswer scores one answer and acks the caller.
func (s *LiveService) SubmitAnswer(ctx context.Context, conn Conn, code, playerID string, index int, payload domain.AnswerPayload) (AnswerAck, error) {
	code = domain.SanitizeCode(code)
	info, err := s.store.Info(ctx, code)
	if err != nil {
		return AnswerAck{}, err
	}
	switch info.Status {
	case domain.StatusEnded:
		return AnswerAck{}, domain.ErrSessionEnded
	case domain.StatusLobby:
		return AnswerAck{}, fmt.Errorf("%w: session has not started", domain.ErrInvalidState)
	}
	if index != info.CurrentIndex {
		return AnswerAck{}, fmt.Errorf("%w: current question is %d", domain.ErrQuestionMismatch, info.CurrentIndex)
	}

	if s.now().After(info.QuestionDeadline) {
		scores, err := s.store.Scores(ctx, code)
		if err != nil {
			return AnswerAck{}, err
		}
		ack := AnswerAck{QuestionIndex: index, Expired: true, YourScore: scores[playerID]}
		conn.Send(domain.EventAnswerAck, ack)
		return ack, nil
	}

	res, err := s.store.SaveAndCheckAnswer(ctx, code, index, playerID, payload)
	if err != nil {
		return AnswerAck{}, err
	}
	ack := AnswerAck{
		QuestionIndex:   index,
		IsCorrect:       res.IsCorrect,
		PointsEarned:    res.PointsEarned,
		AlreadyAnswered: res.AlreadyAnswered,
		Expired:         res.Expired,
		YourScore:       res.Score,
	}
	conn.Send(domain.EventAnswerAck, ack)
	if res.AlreadyAnswered || res.Expired {
		return ack, nil
	}

	s.publish(ctx, code, domain.KeyAnswerSubmitted, answerEvent{PlayerID: playerID, QuestionIndex: index})
	if res.PointsEarned > 0 {
		s.publish(ctx, code, domain.KeyScoreUpdated, scoreEvent{PlayerID: playerID, PointsEarned: res.PointsEarned, Score: res.Score})
	}
	board, err := s.leaderboard(ctx, code)
	if err != nil {
		return ack, err
	}
	s.broadcast(ctx, code, domain.EventLeaderboard, LeaderboardPayload{SessionCode: code, Leaderboard: board})

	all, err := s.allAnswered(ctx, code, index)
	if err != nil {
		return ack, err
	}
	if all {
		s.publish(ctx, code, domain.KeyQuestionAllAnswered, questionEvent{QuestionIndex: index})
	}
	return ack, nil
}

// GetState sends the full session state to conn for resync.
func (s *LiveService) GetState(ctx context.Context, conn Conn, code string) (SessionStatePayload, error) {
	code = domain.SanitizeCode(code)
	info, err := s.store.Info(ctx, code)
	if err != nil {
		return SessionStatePayload{}, err
	}
	board, err := s.leaderboard(ctx, code)
	if err != nil {
		return SessionStatePayload{}, err
	}
	lobby, err := s.lobby(ctx, code, info.HostID)
	if err != nil {
		return SessionStatePayload{}, err
	}
	state := SessionStatePayload{
		SessionCode:    code,
		Status:         info.Status,
		CurrentIndex:   info.CurrentIndex,
		TotalQuestions: info.TotalQuestions,
		Leaderboard:    board,
		Players:        lobby.Players,
		PlayerCount:    lobby.PlayerCount,
		ServerTime:     s.now().UTC(),
	}
	if info.Status != domain.StatusLobby {
		snap, ok, err := s.store.PublicSnapshot(ctx, code)
		if err != nil {
			return SessionStatePayload{}, err
		}
		if ok {
			state.Quiz = &snap
		}
	}
	if info.Status == domain.StatusRunning {
		question, ok, err := s.store.Question(ctx, code, info.CurrentIndex)
		if err != nil {
			return SessionStatePayload{}, err
		}
		if ok {
			deadline := info.QuestionDeadline.UTC()
			state.CurrentQuestion = &question
			state.DeadlineUTC = &deadline
		}
	}
	conn.Send(domain.EventSessionState, state)
	return state, nil
}

// Leave drops conn from the group and the player from the roster. The score stays.
func (s *LiveService) Leave(ctx context.Context, conn Conn, code, playerID string) error {
	code = domain.SanitizeCode(code)
	s.groups.Leave(code, conn)
	if playerID == "" {
		return nil
	}
	info, err := s.store.Info(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.RemovePlayer(ctx, code, playerID); err != nil {
		return err
	}
	lobby, err := s.lobby(ctx, code, info.HostID)
	if err != nil {
		return err
	}
	s.publish(ctx, code, domain.KeyPlayerLeft, playerEvent{PlayerID: playerID, PlayerCount: lobby.PlayerCount})
	s.broadcast(ctx, code, domain.EventLobbyUpdate, lobby)
	return nil
}

func (s *LiveService) hostSession(ctx context.Context, code, playerID string) (domain.Session, error) {
	info, err := s.store.Info(ctx, code)
	if err != nil {
		return domain.Session{}, err
	}
	if info.Status == domain.StatusEnded {
		return domain.Session{}, domain.ErrSessionEnded
	}
	if playerID == "" || info.HostID != playerID {
		return domain.Session{}, domain.ErrNotHost
	}
	return info, nil
}

func (s *LiveService) questionEnded(ctx context.Context, code string, index int) error {
	board, err := s.leaderboard(ctx, code)
	if err != nil {
		return err
	}
	s.broadcast(ctx, code, domain.EventQuestionEnded, QuestionEndedPayload{
		SessionCode:   code,
		QuestionIndex: index,
		Leaderboard:   board,
	})
	s.publish(ctx, code, domain.KeyQuestionEnded, questionEvent{QuestionIndex: index})
	return nil
}

func (s *LiveService) pushQuestion(ctx context.Context, code string, index, total, timeLimit int, question domain.PublicQuestion, deadline time.Time) {
	d := deadline.UTC()
	s.publish(ctx, code, domain.KeyQuestionStarted, questionEvent{QuestionIndex: index, DeadlineUTC: &d})
	s.broadcast(ctx, code, domain.EventQuestionStarted, s.questionPayload(code, index, total, timeLimit, question, deadline))
}

func (s *LiveService) questionPayload(code string, index, total, timeLimit int, question domain.PublicQuestion, deadline time.Time) QuestionPayload {
	return QuestionPayload{
		SessionCode:      code,
		QuestionIndex:    index,
		TotalQuestions:   total,
		TimeLimitSeconds: timeLimit,
		Question:         question,
		DeadlineUTC:      deadline.UTC(),
		ServerTime:       s.now().UTC(),
	}
}

func (s *LiveService) finish(ctx context.Context, code string) error {
	board, err := s.leaderboard(ctx, code)
	if err != nil {
		return err
	}
	log.Printf("live: session %s ended", code)
	s.publish(ctx, code, domain.KeySessionEnded, LeaderboardPayload{SessionCode: code, Leaderboard: board})
	s.broadcast(ctx, code, domain.EventSessionEnded, LeaderboardPayload{SessionCode: code, Leaderboard: board})
	return nil
}

func (s *LiveService) leaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	names, err := s.store.PlayerNames(ctx, code)
	if err != nil {
		return nil, err
	}
	scores, err := s.store.Scores(ctx, code)
	if err != nil {
		return nil, err
	}
	return domain.BuildLeaderboard(names, scores), nil
}

func (s *LiveService) lobby(ctx context.Context, code, hostID string) (LobbyPayload, error) {
	players, err := s.store.Players(ctx, code)
	if err != nil {
		return LobbyPayload{}, err
	}
	views := make([]PlayerView, 0, len(players))
	for _, p := range players {
		views = append(views, PlayerView{ID: p.ID, DisplayName: p.DisplayName, IsHost: p.ID == hostID})
	}
	return LobbyPayload{SessionCode: code, Players: views, PlayerCount: len(views)}, nil
}

// allAnswered reports whether every player currently in the roster answered index.
func (s *LiveService) allAnswered(ctx context.Context, code string, index int) (bool, error) {
	players, err := s.store.Players(ctx, code)
	if err != nil || len(players) == 0 {
		return false, err
	}
	answered, err := s.store.AnsweredPlayers(ctx, code, index)
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(answered))
	for _, id := range answered {
		set[id] = struct{}{}
	}
	for _, p := range players {
		if _, ok := set[p.ID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// broadcast delivers locally and mirrors the event to other instances.
func (s *LiveService) broadcast(ctx context.Context, code, event string, payload any) {
	s.groups.Broadcast(code, event, payload)
	key, ok := domain.FanoutKey(event)
	if !ok {
		return
	}
	evt, err := domain.NewEvent(key, code, s.instanceID, payload, s.now())
	if err != nil {
		log.Printf("live: encode %s for %s: %v", event, code, err)
		return
	}
	evt.Deliver = event
	s.send(ctx, evt)
}

// publish emits an advisory event. Failures are logged and swallowed.
func (s *LiveService) publish(ctx context.Context, code, routingKey string, payload any) {
	evt, err := domain.NewEvent(routingKey, code, s.instanceID, payload, s.now())
	if err != nil {
		log.Printf("live: encode %s for %s: %v", routingKey, code, err)
		return
	}
	s.send(ctx, evt)
}

func (s *LiveService) send(ctx context.Context, evt domain.Event) {
	if s.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, evt); err != nil {
		log.Printf("live: publish %s for %s: %v", evt.RoutingKey, evt.SessionCode, err)
	}
}
