package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRunningStore(t *testing.T) (*SessionStore, *testClock) {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStoreWithClock(time.Hour, clock.Now)

	if ok, err := store.Create(ctx, "ABC234", "sample"); err != nil || !ok {
		t.Fatalf("create: ok=%v err=%v", ok, err)
	}
	if err := store.StoreQuizSnapshot(ctx, "ABC234", domain.Split(SampleQuiz())); err != nil {
		t.Fatalf("store snapshot: %v", err)
	}
	if ok, err := store.TransitionStatus(ctx, "ABC234", domain.StatusLobby, domain.StatusRunning); err != nil || !ok {
		t.Fatalf("transition: ok=%v err=%v", ok, err)
	}
	if _, err := store.SetCurrentIndex(ctx, "ABC234", 0, 20); err != nil {
		t.Fatalf("set index: %v", err)
	}
	return store, clock
}

func TestSessionStoreCreateIsUnique(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(time.Hour)

	if ok, _ := store.Create(ctx, "ABC234", "quiz-1"); !ok {
		t.Fatalf("expected first create to succeed")
	}
	if ok, _ := store.Create(ctx, "ABC234", "quiz-2"); ok {
		t.Fatalf("expected duplicate code to be rejected")
	}
	info, err := store.Info(ctx, "ABC234")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.QuizID != "quiz-1" || info.Status != domain.StatusLobby || info.CurrentIndex != -1 || info.HostID != domain.PendingHost {
		t.Fatalf("unexpected session %+v", info)
	}
}

func TestSessionStoreExpires(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	store := NewSessionStoreWithClock(time.Minute, clock.Now)
	_, _ = store.Create(ctx, "ABC234", "quiz-1")

	clock.Advance(2 * time.Minute)
	if _, err := store.Info(ctx, "ABC234"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestSessionStoreClaimHostOnce(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(time.Hour)
	_, _ = store.Create(ctx, "ABC234", "quiz-1")

	host, claimed, err := store.ClaimHost(ctx, "ABC234", "p1")
	if err != nil || !claimed || host != "p1" {
		t.Fatalf("first claim: host=%s claimed=%v err=%v", host, claimed, err)
	}
	host, claimed, _ = store.ClaimHost(ctx, "ABC234", "p2")
	if claimed || host != "p1" {
		t.Fatalf("second claim should keep p1, got host=%s claimed=%v", host, claimed)
	}
}

func TestSessionStoreStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store, _ := newRunningStore(t)

	if _, err := store.TransitionStatus(ctx, "ABC234", domain.StatusRunning, domain.StatusLobby); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected backwards transition rejected, got %v", err)
	}
	ok, _ := store.TransitionStatus(ctx, "ABC234", domain.StatusLobby, domain.StatusEnded)
	if ok {
		t.Fatalf("expected stale from-status to lose")
	}
}

func TestSessionStoreAnswerIsScoredOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newRunningStore(t)
	_ = store.AddPlayer(ctx, "ABC234", domain.Player{ID: "p1", DisplayName: "Ana"})

	yes := true
	res, err := store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p1", domain.AnswerPayload{BoolAnswer: &yes})
	if err != nil {
		t.Fatalf("save answer: %v", err)
	}
	if !res.IsCorrect || res.PointsEarned != 1 || res.Score != 1 {
		t.Fatalf("unexpected first result %+v", res)
	}

	res, err = store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p1", domain.AnswerPayload{BoolAnswer: &yes})
	if err != nil {
		t.Fatalf("save answer again: %v", err)
	}
	if !res.AlreadyAnswered || res.PointsEarned != 0 || res.Score != 1 {
		t.Fatalf("expected idempotent replay, got %+v", res)
	}
}

func TestSessionStoreConcurrentAnswers(t *testing.T) {
	ctx := context.Background()
	store, _ := newRunningStore(t)
	_ = store.AddPlayer(ctx, "ABC234", domain.Player{ID: "p1", DisplayName: "Ana"})

	yes := true
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p1", domain.AnswerPayload{BoolAnswer: &yes})
		}()
	}
	wg.Wait()

	scores, _ := store.Scores(ctx, "ABC234")
	if scores["p1"] != 1 {
		t.Fatalf("expected single scored answer, got score %d", scores["p1"])
	}
}

func TestSessionStoreDeadlineBoundary(t *testing.T) {
	ctx := context.Background()
	store, clock := newRunningStore(t)
	yes := true

	clock.Advance(20 * time.Second)
	res, err := store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p1", domain.AnswerPayload{BoolAnswer: &yes})
	if err != nil || res.Expired || !res.IsCorrect {
		t.Fatalf("answer at deadline should score, got %+v err=%v", res, err)
	}

	clock.Advance(time.Millisecond)
	res, err = store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p2", domain.AnswerPayload{BoolAnswer: &yes})
	if err != nil || !res.Expired {
		t.Fatalf("answer past deadline should expire, got %+v err=%v", res, err)
	}
	answered, _ := store.AnsweredPlayers(ctx, "ABC234", 0)
	if len(answered) != 1 || answered[0] != "p1" {
		t.Fatalf("expired answer must not be recorded, got %v", answered)
	}
}

func TestSessionStoreRejectsWrongQuestionAndPayload(t *testing.T) {
	ctx := context.Background()
	store, _ := newRunningStore(t)

	opt := "b"
	if _, err := store.SaveAndCheckAnswer(ctx, "ABC234", 1, "p1", domain.AnswerPayload{SingleOptionID: &opt}); !errors.Is(err, domain.ErrQuestionMismatch) {
		t.Fatalf("expected question mismatch, got %v", err)
	}
	if _, err := store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p1", domain.AnswerPayload{SingleOptionID: &opt}); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected invalid answer, got %v", err)
	}
	answered, _ := store.AnsweredPlayers(ctx, "ABC234", 0)
	if len(answered) != 0 {
		t.Fatalf("invalid answer must not be recorded, got %v", answered)
	}
}

func TestSessionStoreAdvanceIndexCAS(t *testing.T) {
	ctx := context.Background()
	store, _ := newRunningStore(t)

	if _, ok, _ := store.AdvanceIndex(ctx, "ABC234", 0, 20); !ok {
		t.Fatalf("expected advance from 0")
	}
	if _, ok, _ := store.AdvanceIndex(ctx, "ABC234", 0, 20); ok {
		t.Fatalf("expected stale advance to lose")
	}
	info, _ := store.Info(ctx, "ABC234")
	if info.CurrentIndex != 1 {
		t.Fatalf("expected index 1, got %d", info.CurrentIndex)
	}
}

func TestSessionStoreRosterKeepsScores(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(time.Hour)
	_, _ = store.Create(ctx, "ABC234", "quiz-1")
	_ = store.AddPlayer(ctx, "ABC234", domain.Player{ID: "p1", DisplayName: "Ana"})
	_, _ = store.IncrementScore(ctx, "ABC234", "p1", 3)

	if err := store.RemovePlayer(ctx, "ABC234", "p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n, _ := store.PlayerCount(ctx, "ABC234"); n != 0 {
		t.Fatalf("expected empty roster, got %d", n)
	}
	scores, _ := store.Scores(ctx, "ABC234")
	names, _ := store.PlayerNames(ctx, "ABC234")
	if scores["p1"] != 3 || names["p1"] != "Ana" {
		t.Fatalf("expected score and name kept, got %v %v", scores, names)
	}

	// rejoin keeps the score
	_ = store.AddPlayer(ctx, "ABC234", domain.Player{ID: "p1", DisplayName: "Ana"})
	scores, _ = store.Scores(ctx, "ABC234")
	if scores["p1"] != 3 {
		t.Fatalf("expected score kept on rejoin, got %d", scores["p1"])
	}
	if _, err := store.IncrementScore(ctx, "ABC234", "p1", -1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected negative delta rejected, got %v", err)
	}
}

func TestSessionStoreActivityExtendsRetention(t *testing.T) {
	ctx := context.Background()
	store, clock := newRunningStore(t)
	_ = store.AddPlayer(ctx, "ABC234", domain.Player{ID: "p1", DisplayName: "Ana"})

	clock.Advance(50 * time.Minute)
	if _, ok, err := store.AdvanceIndex(ctx, "ABC234", 0, 20); err != nil || !ok {
		t.Fatalf("advance: ok=%v err=%v", ok, err)
	}
	clock.Advance(20 * time.Minute)
	if players, _ := store.Players(ctx, "ABC234"); len(players) != 1 {
		t.Fatalf("expected roster to survive, got %+v", players)
	}
	if _, ok, _ := store.PublicSnapshot(ctx, "ABC234"); !ok {
		t.Fatalf("expected snapshot to survive")
	}

	// reads do not extend the window
	clock.Advance(40*time.Minute + time.Second)
	if _, err := store.Info(ctx, "ABC234"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session to expire, got %v", err)
	}
	if _, err := store.Scores(ctx, "ABC234"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected scores to expire with the session, got %v", err)
	}
}

func TestSessionStoreCreateSweepsExpiredSessions(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStoreWithClock(time.Minute, clock.Now)
	_, _ = store.Create(ctx, "OLD111", "quiz-1")
	_, _ = store.Create(ctx, "OLD222", "quiz-1")

	clock.Advance(2 * time.Minute)
	if ok, _ := store.Create(ctx, "NEW333", "quiz-1"); !ok {
		t.Fatalf("expected create to succeed")
	}
	store.mu.Lock()
	n := len(store.sessions)
	store.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected expired sessions to be swept, %d remain", n)
	}

	clock.Advance(2 * time.Minute)
	if ok, _ := store.Create(ctx, "NEW333", "quiz-2"); !ok {
		t.Fatalf("expected expired code to be reusable")
	}
}

func TestSessionStoreLateOrRepeatedAnswerBeatsValidation(t *testing.T) {
	ctx := context.Background()
	store, clock := newRunningStore(t)
	yes := true
	text := "true"

	if _, err := store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p1", domain.AnswerPayload{BoolAnswer: &yes}); err != nil {
		t.Fatalf("save answer: %v", err)
	}
	res, err := store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p1", domain.AnswerPayload{TextAnswer: &text})
	if err != nil || !res.AlreadyAnswered || res.Score != 1 {
		t.Fatalf("expected repeated malformed answer to read as duplicate, got %+v err=%v", res, err)
	}

	clock.Advance(21 * time.Second)
	res, err = store.SaveAndCheckAnswer(ctx, "ABC234", 0, "p2", domain.AnswerPayload{TextAnswer: &text})
	if err != nil || !res.Expired {
		t.Fatalf("expected late malformed answer to expire, got %+v err=%v", res, err)
	}
}
