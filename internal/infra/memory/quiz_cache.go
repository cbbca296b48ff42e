package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// QuizCache keeps recently loaded quizzes for a short TTL so that session
// creation and start do not both hit the content service.
type QuizCache struct {
	source app.QuizSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(source app.QuizSource, ttl time.Duration) *QuizCache {
	return NewQuizCacheWithClock(source, ttl, time.Now)
}

// NewQuizCacheWithClock is test-only for deterministic expiry.
func NewQuizCacheWithClock(source app.QuizSource, ttl time.Duration, now func() time.Time) *QuizCache {
	return &QuizCache{
		source: source,
		ttl:    ttl,
		clock:  now,
		cache:  make(map[string]cachedQuiz),
	}
}

// LoadQuiz serves from cache or loads once per quiz id for concurrent callers.
// Errors are never cached.
func (c *QuizCache) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.lookup(quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		if quiz, ok := c.lookup(quizID); ok {
			return quiz, nil
		}
		quiz, err := c.source.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			c.cache[quizID] = cachedQuiz{quiz: quiz, expiresAt: c.clock().Add(c.ttlWithJitter())}
			c.mu.Unlock()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) lookup(quizID string) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Quiz{}, false
	}
	return entry.quiz, true
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

// StaticQuizSource serves a fixed set of quizzes (local runs and tests).
type StaticQuizSource struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizSource(quizzes ...domain.Quiz) *StaticQuizSource {
	m := make(map[string]domain.Quiz, len(quizzes))
	for _, q := range quizzes {
		m[q.ID] = q
	}
	return &StaticQuizSource{quizzes: m}
}

func (s *StaticQuizSource) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := s.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

// SampleQuiz is served when no content source is configured.
func SampleQuiz() domain.Quiz {
	yes, no := true, false
	return domain.Quiz{
		ID:               "sample",
		Title:            "Networking basics",
		Status:           domain.QuizPublished,
		TimeLimitSeconds: 20,
		Questions: []domain.Question{
			{
				ID:          "q1",
				Type:        domain.QuestionTrueFalse,
				Prompt:      "TCP guarantees in-order delivery.",
				Points:      1,
				CorrectBool: &yes,
			},
			{
				ID:     "q2",
				Type:   domain.QuestionSingleChoice,
				Prompt: "Which port does HTTPS use by default?",
				Points: 2,
				Options: []domain.Option{
					{ID: "a", Text: "80"},
					{ID: "b", Text: "443"},
					{ID: "c", Text: "8080"},
				},
				CorrectOptionIDs: []string{"b"},
			},
			{
				ID:     "q3",
				Type:   domain.QuestionMultipleChoice,
				Prompt: "Which of these are transport layer protocols?",
				Points: 3,
				Options: []domain.Option{
					{ID: "a", Text: "TCP"},
					{ID: "b", Text: "IP"},
					{ID: "c", Text: "UDP"},
				},
				CorrectOptionIDs: []string{"a", "c"},
			},
			{
				ID:              "q4",
				Type:            domain.QuestionShortText,
				Prompt:          "What does the T in TCP stand for?",
				Points:          1,
				AcceptedAnswers: []string{"transmission"},
			},
			{
				ID:          "q5",
				Type:        domain.QuestionTrueFalse,
				Prompt:      "UDP retransmits lost datagrams.",
				Points:      1,
				CorrectBool: &no,
			},
		},
	}
}
