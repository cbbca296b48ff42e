package domain

import "fmt"

// AnswerPayload is the wire form of a submission. Exactly the field matching the
// question type is expected to be set; Resolve turns it into a typed Answer.
type AnswerPayload struct {
	BoolAnswer        *bool    `json:"boolAnswer,omitempty"`
	SingleOptionID    *string  `json:"singleOptionId,omitempty"`
	MultipleOptionIDs []string `json:"multipleOptionIds,omitempty"`
	TextAnswer        *string  `json:"textAnswer,omitempty"`
}

// Answer is one of BoolAnswer, SingleAnswer, MultiAnswer or TextAnswer.
type Answer interface {
	QuestionType() QuestionType
}

type BoolAnswer struct{ Value bool }

type SingleAnswer struct{ OptionID string }

type MultiAnswer struct{ OptionIDs []string }

type TextAnswer struct{ Text string }

func (BoolAnswer) QuestionType() QuestionType   { return QuestionTrueFalse }
func (SingleAnswer) QuestionType() QuestionType { return QuestionSingleChoice }
func (MultiAnswer) QuestionType() QuestionType  { return QuestionMultipleChoice }
func (TextAnswer) QuestionType() QuestionType   { return QuestionShortText }

// Resolve validates the payload against the declared question type.
func (p AnswerPayload) Resolve(t QuestionType) (Answer, error) {
	switch t {
	case QuestionTrueFalse:
		if p.BoolAnswer == nil {
			return nil, fmt.Errorf("%w: boolAnswer required", ErrInvalidAnswer)
		}
		return BoolAnswer{Value: *p.BoolAnswer}, nil
	case QuestionSingleChoice:
		if p.SingleOptionID == nil || *p.SingleOptionID == "" {
			return nil, fmt.Errorf("%w: singleOptionId required", ErrInvalidAnswer)
		}
		return SingleAnswer{OptionID: *p.SingleOptionID}, nil
	case QuestionMultipleChoice:
		if p.MultipleOptionIDs == nil {
			return nil, fmt.Errorf("%w: multipleOptionIds required", ErrInvalidAnswer)
		}
		ids := make([]string, 0, len(p.MultipleOptionIDs))
		for _, id := range p.MultipleOptionIDs {
			if id != "" {
				ids = append(ids, id)
			}
		}
		return MultiAnswer{OptionIDs: ids}, nil
	case QuestionShortText:
		if p.TextAnswer == nil || Normalize(*p.TextAnswer) == "" {
			return nil, fmt.Errorf("%w: textAnswer required", ErrInvalidAnswer)
		}
		return TextAnswer{Text: *p.TextAnswer}, nil
	}
	return nil, fmt.Errorf("%w: unsupported question type %d", ErrInvalidAnswer, t)
}

// Evaluate reports whether a matches the answer key of q.
func Evaluate(q CorrectQuestion, a Answer) bool {
	if a == nil || a.QuestionType() != q.Type {
		return false
	}
	switch v := a.(type) {
	case BoolAnswer:
		return q.CorrectBool != nil && *q.CorrectBool == v.Value
	case SingleAnswer:
		return len(q.CorrectOptionIDs) == 1 && q.CorrectOptionIDs[0] == v.OptionID
	case MultiAnswer:
		return sameSet(v.OptionIDs, q.CorrectOptionIDs)
	case TextAnswer:
		want := Normalize(v.Text)
		for _, accepted := range q.AcceptedAnswers {
			if accepted == want {
				return true
			}
		}
	}
	return false
}

// Score resolves and evaluates a payload, returning the points it earns.
func Score(q CorrectQuestion, p AnswerPayload) (bool, int, error) {
	answer, err := p.Resolve(q.Type)
	if err != nil {
		return false, 0, err
	}
	if !Evaluate(q, answer) {
		return false, 0, nil
	}
	return true, q.Points, nil
}

func sameSet(a, b []string) bool {
	left := make(map[string]struct{}, len(a))
	for _, id := range a {
		if id != "" {
			left[id] = struct{}{}
		}
	}
	right := make(map[string]struct{}, len(b))
	for _, id := range b {
		if id != "" {
			right[id] = struct{}{}
		}
	}
	if len(left) != len(right) {
		return false
	}
	for id := range left {
		if _, ok := right[id]; !ok {
			return false
		}
	}
	return true
}
