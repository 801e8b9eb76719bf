package domain

import "time"

// QuizType decides how answers are encoded and graded.
type QuizType string

const (
	QuizTypeMCQ         QuizType = "MCQ"
	QuizTypeShortAnswer QuizType = "SHORT_ANSWER"
)

// Question is a single quiz item. Options are only present for MCQ quizzes.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options,omitempty"`
	CorrectOption int      `json:"correctOption,omitempty"`
	ModelAnswer   string   `json:"modelAnswer,omitempty"`
	Points        int      `json:"points,omitempty"`
}

// Quiz is the read-only quiz definition an attempt runs against.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"durationMinutes"`
	Type            QuizType   `json:"type"`
	Questions       []Question `json:"questions"`
}

// DurationSeconds returns the countdown budget, floored at one minute.
func (q Quiz) DurationSeconds() int {
	minutes := q.DurationMinutes
	if minutes <= 0 {
		minutes = 1
	}
	return minutes * 60
}

// Question looks up a question by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Public returns a copy with answer keys removed, safe to send to students.
func (q Quiz) Public() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.CorrectOption = 0
		question.ModelAnswer = ""
		if question.Options != nil {
			question.Options = append([]string(nil), question.Options...)
		}
		out.Questions[i] = question
	}
	return out
}

// AnswerValue holds either a selected option index (MCQ) or free text (SHORT_ANSWER).
type AnswerValue struct {
	OptionIndex *int    `json:"selectedOptionIndex,omitempty"`
	Text        *string `json:"answerText,omitempty"`
}

// OptionAnswer builds an MCQ answer value.
func OptionAnswer(index int) AnswerValue {
	return AnswerValue{OptionIndex: &index}
}

// TextAnswer builds a SHORT_ANSWER answer value. The empty string is a valid answer.
func TextAnswer(text string) AnswerValue {
	return AnswerValue{Text: &text}
}

// AnswerEntry is one answered question in a submission payload.
type AnswerEntry struct {
	QuestionID          string  `json:"questionId"`
	SelectedOptionIndex *int    `json:"selectedOptionIndex,omitempty"`
	AnswerText          *string `json:"answerText,omitempty"`
}

// SubmissionRequest is what an attempt sends to the grading gateway.
type SubmissionRequest struct {
	QuizID  string        `json:"quizId"`
	UserID  string        `json:"userId"`
	Answers []AnswerEntry `json:"answers"`
}

// SubmissionResult is the graded outcome of an attempt.
type SubmissionResult struct {
	AttemptID   string    `json:"attemptId"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Percentage  float64   `json:"percentage"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// FeedbackRecord is the grader's per-question verdict as stored with the attempt.
type FeedbackRecord struct {
	QuestionID    string `json:"questionId"`
	QuestionText  string `json:"questionText,omitempty"`
	StudentAnswer string `json:"studentAnswer"`
	Correct       bool   `json:"correct"`
	Feedback      string `json:"feedback"`
}

// QuestionFeedback is a feedback record matched against the quiz for display.
type QuestionFeedback struct {
	QuestionID    string `json:"questionId"`
	QuestionText  string `json:"questionText"`
	StudentAnswer string `json:"studentAnswer"`
	Correct       bool   `json:"correct"`
	Feedback      string `json:"feedback"`
}

// Attempt is a persisted, graded attempt.
type Attempt struct {
	ID       string
	QuizID   string
	UserID   string
	Answers  []AnswerEntry
	Result   SubmissionResult
	Feedback []FeedbackRecord
}

// Percentage computes score/total*100 rounded to two decimals.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(score) * 100 / float64(total)
	return float64(int64(p*100+0.5)) / 100
}
