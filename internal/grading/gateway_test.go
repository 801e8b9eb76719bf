package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"concept-master-quiz/internal/domain"
	"concept-master-quiz/internal/infra/memory"
	"github.com/stretchr/testify/require"
)

type quizMap map[string]domain.Quiz

func (m quizMap) GetQuiz(_ context.Context, id string) (domain.Quiz, error) {
	if quiz, ok := m[id]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SubmittedEvent
	err    error
}

func (p *recordingPublisher) PublishSubmitted(_ context.Context, e SubmittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type keywordGrader struct{}

func (keywordGrader) GradeShortAnswer(_ context.Context, q domain.Question, answer string) (Verdict, error) {
	if strings.Contains(strings.ToLower(answer), q.ModelAnswer) {
		return Verdict{Correct: true, Feedback: "ok"}, nil
	}
	return Verdict{Correct: false, Feedback: "missing " + q.ModelAnswer}, nil
}

type failingGrader struct{}

func (failingGrader) GradeShortAnswer(context.Context, domain.Question, string) (Verdict, error) {
	return Verdict{}, errors.New("model overloaded")
}

func testQuizzes() quizMap {
	return quizMap{
		"mcq": {
			ID:   "mcq",
			Type: domain.QuizTypeMCQ,
			Questions: []domain.Question{
				{ID: "q1", Text: "2+2", Options: []string{"3", "4"}, CorrectOption: 1},
				{ID: "q2", Text: "3+3", Options: []string{"6", "7"}, CorrectOption: 0},
				{ID: "q3", Text: "4+4", Options: []string{"8", "9"}, CorrectOption: 0},
			},
		},
		"short": {
			ID:   "short",
			Type: domain.QuizTypeShortAnswer,
			Questions: []domain.Question{
				{ID: "s1", Text: "Gas plants absorb", ModelAnswer: "carbon dioxide"},
				{ID: "s2", Text: "Powerhouse", ModelAnswer: "mitochondria"},
			},
		},
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func fixedNow() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

func newTestGateway(grader ShortAnswerGrader, opts ...Option) (*Gateway, *memory.AttemptStore) {
	store := memory.NewAttemptStore()
	g := NewGateway(store, testQuizzes(), grader, opts...)
	g.now = fixedNow
	g.newID = func() string { return "attempt-1" }
	return g, store
}

func TestGatewayGradesMCQ(t *testing.T) {
	publisher := &recordingPublisher{}
	g, _ := newTestGateway(ExactGrader{}, WithPublisher(publisher))
	ctx := context.Background()

	result, err := g.Submit(ctx, domain.SubmissionRequest{
		QuizID: "mcq",
		UserID: "u1",
		Answers: []domain.AnswerEntry{
			{QuestionID: "q1", SelectedOptionIndex: intPtr(1)},
			{QuestionID: "q2", SelectedOptionIndex: intPtr(1)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "attempt-1", result.AttemptID)
	require.Equal(t, 1, result.Score)
	require.Equal(t, 3, result.Total)
	require.Equal(t, 33.33, result.Percentage)
	require.True(t, result.SubmittedAt.Equal(fixedNow()))

	records, err := g.Feedback(ctx, "attempt-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "4", records[0].StudentAnswer)
	require.True(t, records[0].Correct)
	require.False(t, records[1].Correct)
	require.Equal(t, "Not answered", records[2].Feedback)

	require.Len(t, publisher.events, 1)
	require.Equal(t, "MCQ", publisher.events[0].QuizType)
	require.Equal(t, 1, publisher.events[0].Score)
}

func TestGatewayGradesShortAnswers(t *testing.T) {
	g, _ := newTestGateway(keywordGrader{}, WithConcurrency(1))

	result, err := g.Submit(context.Background(), domain.SubmissionRequest{
		QuizID: "short",
		UserID: "u1",
		Answers: []domain.AnswerEntry{
			{QuestionID: "s1", AnswerText: strPtr("Carbon dioxide, mostly")},
			{QuestionID: "s2", AnswerText: strPtr("")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Score)
	require.Equal(t, 50.0, result.Percentage)

	records, err := g.Feedback(context.Background(), result.AttemptID)
	require.NoError(t, err)
	require.Equal(t, "ok", records[0].Feedback)
	require.Equal(t, "missing mitochondria", records[1].Feedback)
}

func TestGatewayRejectsSecondAttempt(t *testing.T) {
	g, _ := newTestGateway(ExactGrader{})
	req := domain.SubmissionRequest{QuizID: "mcq", UserID: "u1"}

	_, err := g.Submit(context.Background(), req)
	require.NoError(t, err)

	prior, err := g.PriorAttempt(context.Background(), "mcq", "u1")
	require.NoError(t, err)
	require.NotNil(t, prior)
	require.Equal(t, 0, prior.Score)

	_, err = g.Submit(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrAlreadyAttempted)
	require.False(t, IsRetryable(err))
}

func TestGatewayValidatesAnswers(t *testing.T) {
	g, store := newTestGateway(ExactGrader{})
	ctx := context.Background()

	_, err := g.Submit(ctx, domain.SubmissionRequest{
		QuizID:  "mcq",
		UserID:  "u1",
		Answers: []domain.AnswerEntry{{QuestionID: "q9", SelectedOptionIndex: intPtr(0)}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidAnswerTarget)

	_, err = g.Submit(ctx, domain.SubmissionRequest{
		QuizID:  "mcq",
		UserID:  "u1",
		Answers: []domain.AnswerEntry{{QuestionID: "q1", SelectedOptionIndex: intPtr(5)}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidAnswerValue)

	_, err = g.Submit(ctx, domain.SubmissionRequest{
		QuizID:  "short",
		UserID:  "u1",
		Answers: []domain.AnswerEntry{{QuestionID: "s1", SelectedOptionIndex: intPtr(0)}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidAnswerValue)

	prior, err := store.FindByUser(ctx, "mcq", "u1")
	require.NoError(t, err)
	require.Nil(t, prior)
}

func TestGatewayGraderFailureIsRetryable(t *testing.T) {
	g, store := newTestGateway(failingGrader{})

	_, err := g.Submit(context.Background(), domain.SubmissionRequest{
		QuizID:  "short",
		UserID:  "u1",
		Answers: []domain.AnswerEntry{{QuestionID: "s1", AnswerText: strPtr("co2")}},
	})
	require.Error(t, err)
	require.True(t, IsRetryable(err))

	prior, err := store.FindByUser(context.Background(), "short", "u1")
	require.NoError(t, err)
	require.Nil(t, prior)
}

func TestGatewayPublishFailureDoesNotFailSubmit(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	g, _ := newTestGateway(ExactGrader{}, WithPublisher(publisher))

	_, err := g.Submit(context.Background(), domain.SubmissionRequest{QuizID: "mcq", UserID: "u2"})
	require.NoError(t, err)
	require.Len(t, publisher.events, 1)
}

func TestGatewayUnknownAttempt(t *testing.T) {
	g, _ := newTestGateway(ExactGrader{})
	_, err := g.Feedback(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrAttemptNotFound)
}
