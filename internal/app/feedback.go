package app

import (
	"strings"

	"concept-master-quiz/internal/domain"
)

// MatchFeedback pairs feedback records with quiz questions by id. A record
// whose id matches no question keeps its own question text, or its id when
// it carries none, so the breakdown still renders.
func MatchFeedback(quiz domain.Quiz, records []domain.FeedbackRecord) []domain.QuestionFeedback {
	out := make([]domain.QuestionFeedback, 0, len(records))
	for _, record := range records {
		id := strings.TrimSpace(record.QuestionID)
		text := record.QuestionText
		if question, ok := quiz.Question(id); ok {
			text = question.Text
		} else if text == "" {
			text = id
		}
		out = append(out, domain.QuestionFeedback{
			QuestionID:    id,
			QuestionText:  text,
			StudentAnswer: record.StudentAnswer,
			Correct:       record.Correct,
			Feedback:      record.Feedback,
		})
	}
	return out
}
