package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestQuizCacheCaches(t *testing.T) {
	source := &countingSource{QuizSource: NewStaticQuizSource(SampleQuiz())}
	cache := NewQuizCache(source, time.Minute)

	if _, err := cache.LoadQuiz(context.Background(), "sample"); err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected source once, got %d", source.calls)
	}

	if _, err := cache.LoadQuiz(context.Background(), "sample"); err != nil {
		t.Fatalf("load quiz 2: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected cache hit, source calls %d", source.calls)
	}
}

func TestQuizCacheExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	source := &countingSource{QuizSource: NewStaticQuizSource(SampleQuiz())}
	cache := NewQuizCacheWithClock(source, time.Minute, func() time.Time { return now })

	_, _ = cache.LoadQuiz(context.Background(), "sample")
	now = now.Add(2 * time.Minute)
	_, _ = cache.LoadQuiz(context.Background(), "sample")
	if source.calls != 2 {
		t.Fatalf("expected reload after ttl, source calls %d", source.calls)
	}
}

func TestQuizCacheDoesNotCacheErrors(t *testing.T) {
	source := &countingSource{QuizSource: NewStaticQuizSource()}
	cache := NewQuizCache(source, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cache.LoadQuiz(context.Background(), "missing")
		if !errors.Is(err, domain.ErrQuizNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if source.calls != 2 {
		t.Fatalf("expected errors to bypass cache, source calls %d", source.calls)
	}
}

type countingSource struct {
	app.QuizSource
	calls int
}

func (s *countingSource) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	s.calls++
	return s.QuizSource.LoadQuiz(ctx, quizID)
}
