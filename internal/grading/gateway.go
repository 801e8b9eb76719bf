package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"concept-master-quiz/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// AttemptStore persists graded attempts. FindByUser returns nil when the user has none.
type AttemptStore interface {
	FindByUser(ctx context.Context, quizID, userID string) (*domain.Attempt, error)
	Create(ctx context.Context, attempt domain.Attempt) error
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
}

// QuizSource loads full quiz definitions including answer keys.
type QuizSource interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Verdict is a grader's judgement of one free-text answer.
type Verdict struct {
	Correct  bool   `json:"correct"`
	Feedback string `json:"feedback"`
}

// ShortAnswerGrader judges free-text answers.
type ShortAnswerGrader interface {
	GradeShortAnswer(ctx context.Context, question domain.Question, answer string) (Verdict, error)
}

// EventPublisher announces submitted attempts to downstream consumers.
type EventPublisher interface {
	PublishSubmitted(ctx context.Context, event SubmittedEvent) error
}

// SubmittedEvent is published after an attempt is persisted.
type SubmittedEvent struct {
	AttemptID   string    `json:"attemptId"`
	QuizID      string    `json:"quizId"`
	UserID      string    `json:"userId"`
	QuizType    string    `json:"quizType"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Percentage  float64   `json:"percentage"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithPublisher publishes an event for every submitted attempt.
func WithPublisher(p EventPublisher) Option {
	return func(g *Gateway) { g.publisher = p }
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithConcurrency bounds parallel short-answer grading calls.
func WithConcurrency(n int) Option {
	return func(g *Gateway) { g.concurrency = n }
}

// Gateway grades and persists attempts. It implements app.SubmissionGateway.
type Gateway struct {
	store       AttemptStore
	quizzes     QuizSource
	grader      ShortAnswerGrader
	publisher   EventPublisher
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
	newID       func() string
}

func NewGateway(store AttemptStore, quizzes QuizSource, grader ShortAnswerGrader, opts ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		quizzes:     quizzes,
		grader:      grader,
		logger:      slog.Default(),
		concurrency: 4,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) PriorAttempt(ctx context.Context, quizID, userID string) (*domain.SubmissionResult, error) {
	attempt, err := g.store.FindByUser(ctx, quizID, userID)
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
	}
	if attempt == nil {
		return nil, nil
	}
	result := attempt.Result
	return &result, nil
}

func (g *Gateway) Submit(ctx context.Context, req domain.SubmissionRequest) (domain.SubmissionResult, error) {
	prior, err := g.store.FindByUser(ctx, req.QuizID, req.UserID)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("find attempt: %w", err)
	}
	if prior != nil {
		return domain.SubmissionResult{}, domain.ErrAlreadyAttempted
	}

	quiz, err := g.quizzes.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("load quiz: %w", err)
	}

	feedback, err := g.grade(ctx, quiz, req.Answers)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	score := 0
	for _, f := range feedback {
		if f.Correct {
			score++
		}
	}
	total := len(quiz.Questions)
	attempt := domain.Attempt{
		ID:      g.newID(),
		QuizID:  req.QuizID,
		UserID:  req.UserID,
		Answers: req.Answers,
		Result: domain.SubmissionResult{
			Score:       score,
			Total:       total,
			Percentage:  domain.Percentage(score, total),
			SubmittedAt: g.now().UTC(),
		},
		Feedback: feedback,
	}
	attempt.Result.AttemptID = attempt.ID

	if err := g.store.Create(ctx, attempt); err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("store attempt: %w", err)
	}
	g.logger.Info("attempt graded",
		"attempt_id", attempt.ID,
		"quiz_id", req.QuizID,
		"user_id", req.UserID,
		"score", score,
		"total", total,
	)

	if g.publisher != nil {
		event := SubmittedEvent{
			AttemptID:   attempt.ID,
			QuizID:      attempt.QuizID,
			UserID:      attempt.UserID,
			QuizType:    string(quiz.Type),
			Score:       score,
			Total:       total,
			Percentage:  attempt.Result.Percentage,
			SubmittedAt: attempt.Result.SubmittedAt,
		}
		if err := g.publisher.PublishSubmitted(ctx, event); err != nil {
			g.logger.Warn("publish submitted event failed", "attempt_id", attempt.ID, "error", err)
		}
	}
	return attempt.Result, nil
}

func (g *Gateway) Feedback(ctx context.Context, attemptID string) ([]domain.FeedbackRecord, error) {
	attempt, err := g.store.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return attempt.Feedback, nil
}

// grade produces one feedback record per quiz question, in quiz order.
// Unanswered questions are recorded as incorrect.
func (g *Gateway) grade(ctx context.Context, quiz domain.Quiz, answers []domain.AnswerEntry) ([]domain.FeedbackRecord, error) {
	byQuestion := make(map[string]domain.AnswerEntry, len(answers))
	for _, a := range answers {
		question, ok := quiz.Question(a.QuestionID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAnswerTarget, a.QuestionID)
		}
		if err := validateAnswer(quiz.Type, question, a); err != nil {
			return nil, err
		}
		byQuestion[a.QuestionID] = a
	}

	records := make([]domain.FeedbackRecord, len(quiz.Questions))
	eg, egCtx := errgroup.WithContext(ctx)
	if g.concurrency > 0 {
		eg.SetLimit(g.concurrency)
	}
	for i, question := range quiz.Questions {
		i, question := i, question
		records[i] = domain.FeedbackRecord{
			QuestionID:   question.ID,
			QuestionText: question.Text,
			Feedback:     "Not answered",
		}
		answer, ok := byQuestion[question.ID]
		if !ok {
			continue
		}

		if quiz.Type == domain.QuizTypeShortAnswer {
			text := *answer.AnswerText
			records[i].StudentAnswer = text
			eg.Go(func() error {
				verdict, err := g.grader.GradeShortAnswer(egCtx, question, text)
				if err != nil {
					return fmt.Errorf("grade question %s: %w", question.ID, err)
				}
				records[i].Correct = verdict.Correct
				records[i].Feedback = verdict.Feedback
				return nil
			})
			continue
		}

		idx := *answer.SelectedOptionIndex
		records[i].StudentAnswer = question.Options[idx]
		records[i].Correct = idx == question.CorrectOption
		if records[i].Correct {
			records[i].Feedback = "Correct"
		} else {
			records[i].Feedback = "Incorrect"
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func validateAnswer(quizType domain.QuizType, question domain.Question, a domain.AnswerEntry) error {
	if quizType == domain.QuizTypeShortAnswer {
		if a.AnswerText == nil {
			return fmt.Errorf("%w: question %s expects answer text", domain.ErrInvalidAnswerValue, question.ID)
		}
		return nil
	}
	if a.SelectedOptionIndex == nil {
		return fmt.Errorf("%w: question %s expects an option index", domain.ErrInvalidAnswerValue, question.ID)
	}
	if idx := *a.SelectedOptionIndex; idx < 0 || idx >= len(question.Options) {
		return fmt.Errorf("%w: option %d out of range for question %s", domain.ErrInvalidAnswerValue, idx, question.ID)
	}
	return nil
}

// IsRetryable reports whether a Submit error may succeed on retry.
func IsRetryable(err error) bool {
	return err != nil &&
		!errors.Is(err, domain.ErrAlreadyAttempted) &&
		!errors.Is(err, domain.ErrSessionNotFound) &&
		!errors.Is(err, domain.ErrInvalidAnswerTarget) &&
		!errors.Is(err, domain.ErrInvalidAnswerValue)
}
