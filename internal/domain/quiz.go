package domain

import "strings"

// QuestionType enumerates the supported question kinds, numbered as the content service does.
type QuestionType int

const (
	QuestionTrueFalse QuestionType = iota
	QuestionSingleChoice
	QuestionMultipleChoice
	QuestionShortText
)

func (t QuestionType) String() string {
	switch t {
	case QuestionTrueFalse:
		return "true_false"
	case QuestionSingleChoice:
		return "single_choice"
	case QuestionMultipleChoice:
		return "multiple_choice"
	case QuestionShortText:
		return "short_text"
	}
	return "unknown"
}

// QuizStatus mirrors the content service publication state.
type QuizStatus int

const (
	QuizDraft QuizStatus = iota
	QuizPublished
	QuizArchived
)

const (
	DefaultTimeLimitSeconds = 30
	DefaultPoints           = 1
)

// Option is a selectable answer.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is the full question as delivered by the content service, correct answers included.
type Question struct {
	ID               string       `json:"id"`
	Type             QuestionType `json:"type"`
	Prompt           string       `json:"prompt"`
	Points           int          `json:"points"`
	Options          []Option     `json:"options"`
	CorrectBool      *bool        `json:"correctBool,omitempty"`
	CorrectOptionIDs []string     `json:"correctOptionIds,omitempty"`
	AcceptedAnswers  []string     `json:"acceptedAnswers,omitempty"`
}

// Quiz is the content-service view of a quiz. It never leaves the server.
type Quiz struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Status           QuizStatus `json:"status"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	Questions        []Question `json:"questions"`
}

// Published reports whether the quiz may be played.
func (q Quiz) Published() bool { return q.Status == QuizPublished }

// PublicQuestion is the client-safe view of a question.
type PublicQuestion struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Points  int          `json:"points"`
	Options []Option     `json:"options"`
}

// QuizPublicSnapshot is sent to every client of a session.
type QuizPublicSnapshot struct {
	QuizID           string           `json:"quizId"`
	Title            string           `json:"title"`
	TimeLimitSeconds int              `json:"timeLimitSeconds"`
	Questions        []PublicQuestion `json:"questions"`
}

// CorrectQuestion holds the answer key for one question.
type CorrectQuestion struct {
	ID               string       `json:"id"`
	Type             QuestionType `json:"type"`
	Points           int          `json:"points"`
	CorrectBool      *bool        `json:"correctBool,omitempty"`
	CorrectOptionIDs []string     `json:"correctOptionIds"`
	AcceptedAnswers  []string     `json:"acceptedAnswers"`
}

// QuizCorrectSnapshot is the server-only answer key of a session.
type QuizCorrectSnapshot struct {
	Questions []CorrectQuestion `json:"questions"`
}

// QuizSnapshot pairs the two views produced from one fetch.
type QuizSnapshot struct {
	Public  QuizPublicSnapshot
	Correct QuizCorrectSnapshot
}

// Split builds the public and correct views of q, applying content defaults.
// Accepted text answers are normalized, de-duplicated and empty ones dropped.
func Split(q Quiz) QuizSnapshot {
	timeLimit := q.TimeLimitSeconds
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimitSeconds
	}
	snap := QuizSnapshot{
		Public: QuizPublicSnapshot{
			QuizID:           q.ID,
			Title:            q.Title,
			TimeLimitSeconds: timeLimit,
			Questions:        make([]PublicQuestion, 0, len(q.Questions)),
		},
		Correct: QuizCorrectSnapshot{
			Questions: make([]CorrectQuestion, 0, len(q.Questions)),
		},
	}
	for _, question := range q.Questions {
		points := question.Points
		if points <= 0 {
			points = DefaultPoints
		}
		options := make([]Option, len(question.Options))
		copy(options, question.Options)
		snap.Public.Questions = append(snap.Public.Questions, PublicQuestion{
			ID:      question.ID,
			Type:    question.Type,
			Prompt:  question.Prompt,
			Points:  points,
			Options: options,
		})

		var correctBool *bool
		if question.CorrectBool != nil {
			v := *question.CorrectBool
			correctBool = &v
		}
		optionIDs := make([]string, 0, len(question.CorrectOptionIDs))
		optionIDs = append(optionIDs, question.CorrectOptionIDs...)
		snap.Correct.Questions = append(snap.Correct.Questions, CorrectQuestion{
			ID:               question.ID,
			Type:             question.Type,
			Points:           points,
			CorrectBool:      correctBool,
			CorrectOptionIDs: optionIDs,
			AcceptedAnswers:  normalizeAll(question.AcceptedAnswers),
		})
	}
	return snap
}

// Normalize folds free text for comparison: trimmed and lower-cased.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		n := Normalize(raw)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
