package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for a code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned for operations on a session that has ended.
	ErrSessionEnded = errors.New("session already ended")
	// ErrNotHost is returned when a non-host calls a host-only operation.
	ErrNotHost = errors.New("only the host can do this")
	// ErrInvalidState indicates the session status does not allow the operation.
	ErrInvalidState = errors.New("invalid session state")
	// ErrQuestionMismatch indicates a submission for a question that is not current.
	ErrQuestionMismatch = errors.New("question index mismatch")
	// ErrInvalidAnswer indicates a payload that does not fit the question type.
	ErrInvalidAnswer = errors.New("invalid answer payload")
	// ErrInvalidInput indicates malformed client input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotJoined is returned when a connection acts before joining a session.
	ErrNotJoined = errors.New("join a session first")
	// ErrQuizNotFound indicates the quiz content does not exist.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizNotPublished indicates the quiz exists but may not be played.
	ErrQuizNotPublished = errors.New("quiz not published")
	// ErrQuizEmpty indicates a quiz with no questions.
	ErrQuizEmpty = errors.New("quiz has no questions")
	// ErrUpstreamUnavailable indicates the content service could not be reached.
	ErrUpstreamUnavailable = errors.New("quiz service temporarily unavailable")
	// ErrMalformedEvent indicates a bus message that cannot be relayed.
	ErrMalformedEvent = errors.New("malformed event")
)

// ErrorKind groups errors by how callers should treat them.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindForbidden   ErrorKind = "forbidden"
	KindConflict    ErrorKind = "conflict"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

var errorCodes = []struct {
	err  error
	code string
	kind ErrorKind
}{
	{ErrSessionNotFound, "session_not_found", KindNotFound},
	{ErrQuizNotFound, "quiz_not_found", KindNotFound},
	{ErrSessionEnded, "session_ended", KindConflict},
	{ErrInvalidState, "invalid_state", KindConflict},
	{ErrQuestionMismatch, "question_mismatch", KindConflict},
	{ErrNotHost, "not_host", KindForbidden},
	{ErrInvalidAnswer, "invalid_answer", KindValidation},
	{ErrInvalidInput, "invalid_input", KindValidation},
	{ErrNotJoined, "not_joined", KindValidation},
	{ErrQuizNotPublished, "quiz_not_published", KindValidation},
	{ErrQuizEmpty, "quiz_empty", KindValidation},
	{ErrMalformedEvent, "malformed_event", KindValidation},
	{ErrUpstreamUnavailable, "upstream_unavailable", KindUnavailable},
}

// Classify maps err to its kind; unknown errors (store failures) are internal.
func Classify(err error) ErrorKind {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return KindInternal
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal"
}
