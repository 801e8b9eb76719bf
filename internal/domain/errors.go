package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no attempt session is registered for the quiz and user.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound indicates an unknown attempt id.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAlreadyAttempted is returned by the gateway when the user already has an attempt for the quiz.
	ErrAlreadyAttempted = errors.New("quiz already attempted")

	// ErrLoadFailure wraps failures to fetch the quiz or check for a prior attempt.
	ErrLoadFailure = errors.New("attempt load failed")
	// ErrInvalidAnswerTarget is returned when an answer names a question outside the quiz.
	ErrInvalidAnswerTarget = errors.New("question not in quiz")
	// ErrInvalidAnswerValue is returned when the answer kind or option index does not fit the question.
	ErrInvalidAnswerValue = errors.New("invalid answer value")
	// ErrInvalidQuestionIndex is returned when navigating outside the question range.
	ErrInvalidQuestionIndex = errors.New("question index out of range")
	// ErrNotInProgress is returned when an answer or navigation arrives outside IN_PROGRESS.
	ErrNotInProgress = errors.New("attempt not in progress")
	// ErrConfirmationRequired is returned when submitting with unanswered questions without confirmation.
	ErrConfirmationRequired = errors.New("unanswered questions, confirmation required")
	// ErrSubmissionFailure wraps gateway errors on submit; the attempt stays in progress.
	ErrSubmissionFailure = errors.New("submission failed")
	// ErrFeedbackFetchFailure wraps failures to fetch per-question feedback.
	ErrFeedbackFetchFailure = errors.New("feedback fetch failed")
)
