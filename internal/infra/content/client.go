package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"live-quiz-service/internal/domain"
)

// Client reads quizzes from the content service over its internal API. The
// response includes answer keys, so the service must only be reachable on a
// trusted network.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// LoadQuiz fetches GET {base}/api/quizzes/{id}. A 404 is domain.ErrQuizNotFound;
// transport failures and 5xx answers are domain.ErrUpstreamUnavailable.
func (c *Client) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	endpoint := c.baseURL + "/api/quizzes/" + url.PathEscape(quizID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Quiz{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Quiz{}, fmt.Errorf("%w: %s", domain.ErrQuizNotFound, quizID)
	case resp.StatusCode >= 500:
		return domain.Quiz{}, fmt.Errorf("%w: content service returned %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.Quiz{}, fmt.Errorf("content service returned %d for quiz %s", resp.StatusCode, quizID)
	}

	var quiz domain.Quiz
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: decode quiz %s: %v", domain.ErrUpstreamUnavailable, quizID, err)
	}
	if quiz.ID == "" {
		quiz.ID = quizID
	}
	return quiz, nil
}
