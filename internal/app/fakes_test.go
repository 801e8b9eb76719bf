package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"concept-master-quiz/internal/domain"
)

type stubQuizzes struct {
	quizzes map[string]domain.Quiz
	err     error
	calls   int
	mu      sync.Mutex
}

func (s *stubQuizzes) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.Quiz{}, s.err
	}
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

// fakeGateway records submissions. Errors queued in submitErrs are returned
// in order; block, when set, holds Submit until it is closed.
type fakeGateway struct {
	mu          sync.Mutex
	prior       *domain.SubmissionResult
	priorErr    error
	submitErrs  []error
	block       chan struct{}
	entered     chan struct{}
	requests    []domain.SubmissionRequest
	feedback    []domain.FeedbackRecord
	feedbackErr error
	feedbackIDs []string
}

func (g *fakeGateway) PriorAttempt(context.Context, string, string) (*domain.SubmissionResult, error) {
	return g.prior, g.priorErr
}

func (g *fakeGateway) Submit(_ context.Context, req domain.SubmissionRequest) (domain.SubmissionResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	block, entered := g.block, g.entered
	var err error
	if len(g.submitErrs) > 0 {
		err = g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]
	}
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return domain.SubmissionResult{AttemptID: "attempt-1", Score: len(req.Answers), Total: 2, Percentage: 50}, nil
}

func (g *fakeGateway) Feedback(_ context.Context, attemptID string) ([]domain.FeedbackRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feedbackIDs = append(g.feedbackIDs, attemptID)
	if g.feedbackErr != nil {
		return nil, g.feedbackErr
	}
	return g.feedback, nil
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGateway) feedbackCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.feedbackIDs)
}

// manualClock hands out tickers the test fires by hand.
type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *manualTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (c *manualClock) latest(t *testing.T) *manualTicker {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		t.Fatalf("no ticker created")
	}
	return c.tickers[len(c.tickers)-1]
}

func (c *manualClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func mcqQuiz(minutes int) domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Arithmetic",
		DurationMinutes: minutes,
		Type:            domain.QuizTypeMCQ,
		Questions: []domain.Question{
			{ID: "q1", Text: "2 + 2?", Options: []string{"4", "5"}, CorrectOption: 0},
			{ID: "q2", Text: "3 + 3?", Options: []string{"5", "6"}, CorrectOption: 1},
		},
	}
}

func shortQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-2",
		DurationMinutes: 1,
		Type:            domain.QuizTypeShortAnswer,
		Questions: []domain.Question{
			{ID: "s1", Text: "Define osmosis", ModelAnswer: "diffusion of water"},
			{ID: "s2", Text: "Define entropy", ModelAnswer: "disorder"},
		},
	}
}

func newTestSession(t *testing.T, quiz domain.Quiz, gateway *fakeGateway, clock Clock) *Session {
	t.Helper()
	session := NewSession(quiz.ID, "user-1", SessionConfig{
		Quizzes: &stubQuizzes{quizzes: map[string]domain.Quiz{quiz.ID: quiz}},
		Gateway: gateway,
		Clock:   clock,
	})
	if _, err := session.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return session
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errGatewayDown = errors.New("gateway unavailable")
