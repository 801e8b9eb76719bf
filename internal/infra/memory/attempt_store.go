package memory

import (
	"context"
	"sync"

	"concept-master-quiz/internal/domain"
)

// AttemptStore keeps graded attempts in memory. Attempts are lost on restart.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
	byUser   map[string]string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]domain.Attempt),
		byUser:   make(map[string]string),
	}
}

func (s *AttemptStore) FindByUser(_ context.Context, quizID, userID string) (*domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userKey(quizID, userID)]
	if !ok {
		return nil, nil
	}
	attempt := s.attempts[id]
	return &attempt, nil
}

func (s *AttemptStore) Create(_ context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userKey(attempt.QuizID, attempt.UserID)
	if _, ok := s.byUser[key]; ok {
		return domain.ErrAlreadyAttempted
	}
	s.attempts[attempt.ID] = attempt
	s.byUser[key] = attempt.ID
	return nil
}

func (s *AttemptStore) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func userKey(quizID, userID string) string {
	return quizID + "\x00" + userID
}
