package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"concept-master-quiz/internal/domain"
)

// Status is the lifecycle state of an attempt session.
type Status string

const (
	StatusLoading          Status = "LOADING"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusSubmitting       Status = "SUBMITTING"
	StatusSubmitted        Status = "SUBMITTED"
	StatusAlreadyAttempted Status = "ALREADY_ATTEMPTED"
)

// Snapshot is a point-in-time view of a session, safe to hand to other goroutines.
type Snapshot struct {
	QuizID               string                        `json:"quizId"`
	UserID               string                        `json:"userId"`
	Status               Status                        `json:"status"`
	RemainingSeconds     int                           `json:"remainingSeconds"`
	CurrentQuestionIndex int                           `json:"currentQuestionIndex"`
	Answered             int                           `json:"answered"`
	Total                int                           `json:"total"`
	Answers              map[string]domain.AnswerValue `json:"answers"`
	Result               *domain.SubmissionResult      `json:"result,omitempty"`
	Feedback             []domain.QuestionFeedback     `json:"feedback,omitempty"`
	FeedbackError        string                        `json:"feedbackError,omitempty"`
	Error                string                        `json:"error,omitempty"`
}

// SessionConfig wires a session to its collaborators.
type SessionConfig struct {
	Quizzes QuizRepository
	Gateway SubmissionGateway
	Clock   Clock
	Logger  *slog.Logger
	// Context is used for submissions triggered by the countdown reaching zero.
	Context context.Context
}

// Session owns one student's attempt at one quiz, from load to submission.
type Session struct {
	quizID  string
	userID  string
	quizzes QuizRepository
	gateway SubmissionGateway
	clock   Clock
	logger  *slog.Logger
	baseCtx context.Context

	mu          sync.Mutex
	status      Status
	quiz        domain.Quiz
	answers     map[string]domain.AnswerValue
	remaining   int
	current     int
	result      *domain.SubmissionResult
	feedback    []domain.QuestionFeedback
	feedbackErr error
	lastErr     error
	owners      int
	closed      bool
	released    bool
	release     func()

	timerGen  uint64
	timerStop func()

	subscribers map[chan Snapshot]struct{}
}

// NewSession creates a session in LOADING state. Call Load before anything else.
func NewSession(quizID, userID string, cfg SessionConfig) *Session {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	return &Session{
		quizID:      quizID,
		userID:      userID,
		quizzes:     cfg.Quizzes,
		gateway:     cfg.Gateway,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("quiz_id", quizID, "user_id", userID),
		baseCtx:     cfg.Context,
		status:      StatusLoading,
		answers:     make(map[string]domain.AnswerValue),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Load fetches the quiz and checks for a prior attempt by the same user.
// On error the session stays in LOADING and must be discarded.
func (s *Session) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.status != StatusLoading {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	quiz, err := s.quizzes.GetQuiz(ctx, s.quizID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: quiz %s: %w", domain.ErrLoadFailure, s.quizID, err)
	}
	prior, err := s.gateway.PriorAttempt(ctx, s.quizID, s.userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: prior attempt check: %w", domain.ErrLoadFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.quiz = quiz
	if prior != nil {
		result := *prior
		s.result = &result
		s.status = StatusAlreadyAttempted
		s.logger.Info("prior attempt found", "attempt_id", prior.AttemptID)
		return s.broadcastLocked(), nil
	}
	s.status = StatusInProgress
	s.remaining = quiz.DurationSeconds()
	s.logger.Info("attempt started", "remaining_seconds", s.remaining, "questions", len(quiz.Questions))
	return s.broadcastLocked(), nil
}

// Start begins the one-second countdown. It is a no-op unless the session is
// in progress with time left and no timer running.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTimerLocked()
}

// Stop cancels the countdown if it is running.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

func (s *Session) timerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerStop != nil
}

// Close drops one owner. When the last owner leaves the timer stops and no
// submission is implied. It reports whether the session was released; with a
// submission in flight the release happens once it settles, unless an owner
// acquires the session again first.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners > 0 {
		s.owners--
	}
	if s.owners > 0 {
		return false
	}
	s.closed = true
	s.stopTimerLocked()
	if s.status == StatusSubmitting {
		return false
	}
	s.releaseLocked()
	return true
}

// acquire adds an owner and reopens a closed session, resuming its countdown.
// It returns false once the session has been released.
func (s *Session) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.owners++
	if s.closed {
		s.closed = false
		s.logger.Info("attempt session reopened", "status", s.status, "remaining_seconds", s.remaining)
		s.startTimerLocked()
	}
	return true
}

func (s *Session) onRelease(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = fn
}

// Tick advances the countdown by one second. Reaching zero submits the attempt.
func (s *Session) Tick() {
	s.tick(0)
}

// tick with gen 0 is a direct call; otherwise it must come from the live timer.
func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if gen != 0 && (gen != s.timerGen || s.timerStop == nil) {
		s.mu.Unlock()
		return
	}
	if s.status != StatusInProgress || s.remaining <= 0 {
		s.mu.Unlock()
		return
	}
	s.remaining--
	if s.remaining > 0 {
		s.broadcastLocked()
		s.mu.Unlock()
		return
	}

	s.logger.Info("time is up, submitting attempt")
	req := s.beginSubmitLocked()
	s.mu.Unlock()
	_ = s.finishSubmit(s.baseCtx, req)
}

// RecordAnswer stores or overwrites the answer for a question.
func (s *Session) RecordAnswer(questionID string, value domain.AnswerValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return domain.ErrNotInProgress
	}
	question, ok := s.quiz.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAnswerTarget, questionID)
	}

	var stored domain.AnswerValue
	if s.quiz.Type == domain.QuizTypeShortAnswer {
		if value.Text == nil || value.OptionIndex != nil {
			return fmt.Errorf("%w: question %s expects answer text", domain.ErrInvalidAnswerValue, questionID)
		}
		stored = domain.TextAnswer(*value.Text)
	} else {
		if value.OptionIndex == nil || value.Text != nil {
			return fmt.Errorf("%w: question %s expects an option index", domain.ErrInvalidAnswerValue, questionID)
		}
		idx := *value.OptionIndex
		if idx < 0 || idx >= len(question.Options) {
			return fmt.Errorf("%w: option %d out of range for question %s", domain.ErrInvalidAnswerValue, idx, questionID)
		}
		stored = domain.OptionAnswer(idx)
	}
	s.answers[questionID] = stored
	s.broadcastLocked()
	return nil
}

// ClearAnswer marks a question unanswered again.
func (s *Session) ClearAnswer(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return domain.ErrNotInProgress
	}
	if _, ok := s.quiz.Question(questionID); !ok {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAnswerTarget, questionID)
	}
	delete(s.answers, questionID)
	s.broadcastLocked()
	return nil
}

// Navigate moves the current question pointer. Any index in range is allowed.
func (s *Session) Navigate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		return domain.ErrNotInProgress
	}
	if index < 0 || index >= len(s.quiz.Questions) {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuestionIndex, index)
	}
	s.current = index
	s.broadcastLocked()
	return nil
}

// Submit sends the accumulated answers to the gateway once. Calls outside
// IN_PROGRESS are no-ops. With unanswered questions the caller has to pass
// confirmed=true, otherwise ErrConfirmationRequired is returned and nothing
// changes.
func (s *Session) Submit(ctx context.Context, confirmed bool) (Snapshot, error) {
	s.mu.Lock()
	if s.status != StatusInProgress {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	if unanswered := len(s.quiz.Questions) - len(s.answers); unanswered > 0 && !confirmed {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, fmt.Errorf("%w: %d of %d unanswered", domain.ErrConfirmationRequired, unanswered, len(s.quiz.Questions))
	}
	req := s.beginSubmitLocked()
	s.mu.Unlock()

	err := s.finishSubmit(ctx, req)
	return s.Snapshot(), err
}

// RefreshFeedback re-fetches per-question feedback for a submitted short-answer attempt.
func (s *Session) RefreshFeedback(ctx context.Context) ([]domain.QuestionFeedback, error) {
	s.mu.Lock()
	ok := s.status == StatusSubmitted && s.quiz.Type == domain.QuizTypeShortAnswer && s.result != nil
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	s.loadFeedback(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedbackErr != nil {
		return nil, s.feedbackErr
	}
	return append([]domain.QuestionFeedback(nil), s.feedback...), nil
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) beginSubmitLocked() domain.SubmissionRequest {
	s.status = StatusSubmitting
	s.lastErr = nil
	s.stopTimerLocked()
	s.broadcastLocked()
	return s.requestLocked()
}

func (s *Session) finishSubmit(ctx context.Context, req domain.SubmissionRequest) error {
	result, err := s.gateway.Submit(ctx, req)

	s.mu.Lock()
	if err != nil {
		s.status = StatusInProgress
		s.lastErr = fmt.Errorf("%w: %w", domain.ErrSubmissionFailure, err)
		s.logger.Warn("submission failed", "error", err, "remaining_seconds", s.remaining)
		s.startTimerLocked()
		s.broadcastLocked()
		submitErr := s.lastErr
		if s.closed {
			s.releaseLocked()
		}
		s.mu.Unlock()
		return submitErr
	}

	s.status = StatusSubmitted
	s.result = &result
	s.logger.Info("attempt submitted", "attempt_id", result.AttemptID, "score", result.Score, "total", result.Total)
	s.broadcastLocked()
	needFeedback := s.quiz.Type == domain.QuizTypeShortAnswer
	if s.closed {
		s.releaseLocked()
	}
	s.mu.Unlock()

	if needFeedback {
		s.loadFeedback(ctx)
	}
	return nil
}

func (s *Session) loadFeedback(ctx context.Context) {
	s.mu.Lock()
	attemptID := s.result.AttemptID
	quiz := s.quiz
	s.mu.Unlock()

	records, err := s.gateway.Feedback(ctx, attemptID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.feedbackErr = fmt.Errorf("%w: %w", domain.ErrFeedbackFetchFailure, err)
		s.logger.Warn("feedback fetch failed", "attempt_id", attemptID, "error", err)
		s.broadcastLocked()
		return
	}
	s.feedback = MatchFeedback(quiz, records)
	s.feedbackErr = nil
	s.broadcastLocked()
}

// releaseLocked runs the release callback under the session lock, so an
// owner can never acquire a session that is being unregistered.
func (s *Session) releaseLocked() {
	if s.released {
		return
	}
	s.released = true
	if s.release != nil {
		s.release()
	}
}

// requestLocked encodes recorded answers in question order; unanswered questions are omitted.
func (s *Session) requestLocked() domain.SubmissionRequest {
	req := domain.SubmissionRequest{
		QuizID:  s.quizID,
		UserID:  s.userID,
		Answers: make([]domain.AnswerEntry, 0, len(s.answers)),
	}
	for _, question := range s.quiz.Questions {
		value, ok := s.answers[question.ID]
		if !ok {
			continue
		}
		entry := domain.AnswerEntry{QuestionID: question.ID}
		if value.OptionIndex != nil {
			idx := *value.OptionIndex
			entry.SelectedOptionIndex = &idx
		} else if value.Text != nil {
			text := *value.Text
			entry.AnswerText = &text
		}
		req.Answers = append(req.Answers, entry)
	}
	return req
}

func (s *Session) startTimerLocked() {
	if s.closed || s.status != StatusInProgress || s.timerStop != nil || s.remaining <= 0 {
		return
	}
	s.timerGen++
	gen := s.timerGen
	ticker := s.clock.NewTicker(time.Second)
	done := make(chan struct{})
	s.timerStop = func() {
		close(done)
		ticker.Stop()
	}
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				s.tick(gen)
			}
		}
	}()
}

func (s *Session) stopTimerLocked() {
	if s.timerStop == nil {
		return
	}
	s.timerStop()
	s.timerStop = nil
}

func (s *Session) subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	ch <- s.snapshotLocked()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcastLocked() Snapshot {
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// drop the oldest pending snapshot so slow readers never block the session
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	return snap
}

func (s *Session) snapshotLocked() Snapshot {
	answers := make(map[string]domain.AnswerValue, len(s.answers))
	for id, value := range s.answers {
		answers[id] = value
	}
	snap := Snapshot{
		QuizID:               s.quizID,
		UserID:               s.userID,
		Status:               s.status,
		RemainingSeconds:     s.remaining,
		CurrentQuestionIndex: s.current,
		Answered:             len(s.answers),
		Total:                len(s.quiz.Questions),
		Answers:              answers,
	}
	if s.result != nil {
		result := *s.result
		snap.Result = &result
	}
	if s.feedback != nil {
		snap.Feedback = append([]domain.QuestionFeedback(nil), s.feedback...)
	}
	if s.feedbackErr != nil {
		snap.FeedbackError = s.feedbackErr.Error()
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}
