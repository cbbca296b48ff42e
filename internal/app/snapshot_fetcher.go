package app

import (
	"context"
	"errors"
	"fmt"

	"live-quiz-service/internal/domain"
)

// QuizSource loads quiz content (content service, Postgres, or a static set).
type QuizSource interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SnapshotFetcher turns quiz content into the public and answer-key views.
type SnapshotFetcher struct {
	source QuizSource
}

func NewSnapshotFetcher(source QuizSource) *SnapshotFetcher {
	return &SnapshotFetcher{source: source}
}

// FetchSnapshot fails with domain.ErrQuizNotFound or domain.ErrQuizNotPublished
// for unusable quizzes and passes upstream failures through unchanged.
func (f *SnapshotFetcher) FetchSnapshot(ctx context.Context, quizID string) (domain.QuizSnapshot, error) {
	quiz, err := f.source.LoadQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizSnapshot{}, err
	}
	if !quiz.Published() {
		return domain.QuizSnapshot{}, fmt.Errorf("%w: %s", domain.ErrQuizNotPublished, quizID)
	}
	return domain.Split(quiz), nil
}

// ExistsAndPublished reports false for missing or unpublished quizzes. Only
// upstream failures are returned as errors.
func (f *SnapshotFetcher) ExistsAndPublished(ctx context.Context, quizID string) (bool, error) {
	quiz, err := f.source.LoadQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return quiz.Published(), nil
}
