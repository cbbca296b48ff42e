package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// QuizCache shares recently loaded quiz content between instances. Entries are
// stored as JSON under lq:quizcache:{quizID} and fall back to the source on miss.
type QuizCache struct {
	client redis.UniversalClient
	source app.QuizSource
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuizCache(client redis.UniversalClient, source app.QuizSource, ttl time.Duration) *QuizCache {
	return &QuizCache{client: client, source: source, ttl: ttl}
}

func (c *QuizCache) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := c.cached(ctx, quizID); ok {
			return quiz, nil
		}
		quiz, err := c.source.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if c.ttl > 0 {
			if data, err := json.Marshal(quiz); err == nil {
				if err := c.client.Set(ctx, c.key(quizID), data, c.ttlWithJitter()).Err(); err != nil {
					log.Printf("redis: cache quiz %s: %v", quizID, err)
				}
			}
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// cached treats Redis errors as a miss so the content source stays reachable.
func (c *QuizCache) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	raw, err := c.client.Get(ctx, c.key(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("redis: read cached quiz %s: %v", quizID, err)
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) key(quizID string) string {
	return "lq:quizcache:" + quizID
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int64N(jitterMax+1))
}
