package grading

import (
	"context"
	"strings"

	"concept-master-quiz/internal/domain"
)

// ExactGrader marks a short answer correct when it matches the model answer,
// ignoring case and surrounding or repeated whitespace. It is used when no
// LLM endpoint is configured.
type ExactGrader struct{}

func (ExactGrader) GradeShortAnswer(_ context.Context, question domain.Question, answer string) (Verdict, error) {
	if normalize(answer) == "" {
		return Verdict{Correct: false, Feedback: "No answer given."}, nil
	}
	if question.ModelAnswer == "" {
		return Verdict{Correct: false, Feedback: "This question has no reference answer; it will be reviewed manually."}, nil
	}
	if normalize(answer) == normalize(question.ModelAnswer) {
		return Verdict{Correct: true, Feedback: "Matches the expected answer."}, nil
	}
	return Verdict{Correct: false, Feedback: "Expected: " + question.ModelAnswer}, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
