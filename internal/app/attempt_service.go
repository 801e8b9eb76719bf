package app

import (
	"context"
	"fmt"
	"log/slog"

	"concept-master-quiz/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizCache is implemented by quiz repositories that cache definitions.
type QuizCache interface {
	Invalidate(ctx context.Context, quizID string) error
}

// SubmissionGateway persists and grades attempts.
type SubmissionGateway interface {
	// PriorAttempt returns the user's earlier result for the quiz, or nil if there is none.
	PriorAttempt(ctx context.Context, quizID, userID string) (*domain.SubmissionResult, error)
	Submit(ctx context.Context, req domain.SubmissionRequest) (domain.SubmissionResult, error)
	Feedback(ctx context.Context, attemptID string) ([]domain.FeedbackRecord, error)
}

// SessionKey identifies the attempt session of one user on one quiz.
type SessionKey struct {
	QuizID string
	UserID string
}

func (k SessionKey) String() string {
	return k.QuizID + ":" + k.UserID
}

// SessionRepository abstracts where live attempt sessions are registered (in-memory, Redis, etc).
type SessionRepository interface {
	Get(key SessionKey) (*Session, bool)
	// PutIfAbsent registers the session unless one already exists, returning the registered one.
	PutIfAbsent(key SessionKey, session *Session) (*Session, bool)
	Delete(key SessionKey)
}

// ServiceOption customizes an AttemptService.
type ServiceOption func(*AttemptService)

// WithClock replaces the countdown clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *AttemptService) { s.clock = clock }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *AttemptService) { s.logger = logger }
}

// AttemptService contains the quiz attempt use cases.
type AttemptService struct {
	ctx      context.Context
	sessions SessionRepository
	quizzes  QuizRepository
	gateway  SubmissionGateway
	clock    Clock
	logger   *slog.Logger
}

// NewAttemptService builds the service. ctx bounds background work such as
// submissions triggered by a countdown reaching zero.
func NewAttemptService(ctx context.Context, sessions SessionRepository, quizzes QuizRepository, gateway SubmissionGateway, opts ...ServiceOption) *AttemptService {
	s := &AttemptService{
		ctx:      ctx,
		sessions: sessions,
		quizzes:  quizzes,
		gateway:  gateway,
		clock:    SystemClock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the user's attempt on a quiz and makes the caller an owner of
// it. Re-entering a live attempt joins the existing session instead of
// starting a second timer; every Start must be paired with a Leave.
func (s *AttemptService) Start(ctx context.Context, quizID, userID string) (Snapshot, error) {
	key := SessionKey{QuizID: quizID, UserID: userID}
	if session, ok := s.sessions.Get(key); ok && session.acquire() {
		return session.Snapshot(), nil
	}

	session := NewSession(quizID, userID, SessionConfig{
		Quizzes: s.quizzes,
		Gateway: s.gateway,
		Clock:   s.clock,
		Logger:  s.logger,
		Context: s.ctx,
	})
	if _, err := session.Load(ctx); err != nil {
		s.logger.Error("attempt load failed", "quiz_id", quizID, "user_id", userID, "error", err)
		return Snapshot{}, err
	}
	session.onRelease(func() { s.sessions.Delete(key) })

	for {
		registered, created := s.sessions.PutIfAbsent(key, session)
		if created {
			session.acquire()
			session.Start()
			return session.Snapshot(), nil
		}
		if registered.acquire() {
			return registered.Snapshot(), nil
		}
		// released between lookup and acquire; it is already unregistered
	}
}

// RecordAnswer stores an answer in the user's live attempt.
func (s *AttemptService) RecordAnswer(_ context.Context, quizID, userID, questionID string, value domain.AnswerValue) (Snapshot, error) {
	session, err := s.session(quizID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := session.RecordAnswer(questionID, value); err != nil {
		return session.Snapshot(), err
	}
	return session.Snapshot(), nil
}

// ClearAnswer removes a recorded answer.
func (s *AttemptService) ClearAnswer(_ context.Context, quizID, userID, questionID string) (Snapshot, error) {
	session, err := s.session(quizID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := session.ClearAnswer(questionID); err != nil {
		return session.Snapshot(), err
	}
	return session.Snapshot(), nil
}

// Navigate moves the current question pointer.
func (s *AttemptService) Navigate(_ context.Context, quizID, userID string, index int) (Snapshot, error) {
	session, err := s.session(quizID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := session.Navigate(index); err != nil {
		return session.Snapshot(), err
	}
	return session.Snapshot(), nil
}

// Submit submits the user's attempt. See Session.Submit for the confirmation rule.
func (s *AttemptService) Submit(ctx context.Context, quizID, userID string, confirmed bool) (Snapshot, error) {
	session, err := s.session(quizID, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return session.Submit(ctx, confirmed)
}

// Subscribe returns a channel that receives state updates for an attempt.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *AttemptService) Subscribe(_ context.Context, quizID, userID string) (<-chan Snapshot, func(), error) {
	session, err := s.session(quizID, userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Leave drops the caller's ownership of the attempt. The session is torn
// down, without submitting, once its last owner leaves.
func (s *AttemptService) Leave(_ context.Context, quizID, userID string) {
	if session, ok := s.sessions.Get(SessionKey{QuizID: quizID, UserID: userID}); ok {
		session.Close()
	}
}

// Quiz returns the student-facing view of a quiz.
func (s *AttemptService) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	return quiz.Public(), nil
}

// ReloadQuiz drops any cached definition of the quiz and loads it again.
// Attempts already running keep the definition they started with.
func (s *AttemptService) ReloadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if cache, ok := s.quizzes.(QuizCache); ok {
		if err := cache.Invalidate(ctx, quizID); err != nil {
			return domain.Quiz{}, fmt.Errorf("invalidate quiz %s: %w", quizID, err)
		}
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	s.logger.Info("quiz reloaded", "quiz_id", quizID, "questions", len(quiz.Questions))
	return quiz.Public(), nil
}

// Feedback fetches the per-question breakdown of a submitted attempt.
func (s *AttemptService) Feedback(ctx context.Context, quizID, attemptID string) ([]domain.QuestionFeedback, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedbackFetchFailure, err)
	}
	records, err := s.gateway.Feedback(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedbackFetchFailure, err)
	}
	return MatchFeedback(quiz, records), nil
}

func (s *AttemptService) session(quizID, userID string) (*Session, error) {
	session, ok := s.sessions.Get(SessionKey{QuizID: quizID, UserID: userID})
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}
