package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"concept-master-quiz/internal/app"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions own a live timer, so the session itself stays in a local map.
//   - Redis holds a liveness marker per attempt with a TTL, which lets other
//     instances and operators see which attempts are open.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[app.SessionKey]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[app.SessionKey]*app.Session),
	}
}

func (s *SessionStore) Get(key app.SessionKey) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

func (s *SessionStore) PutIfAbsent(key app.SessionKey, session *app.Session) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[key]; ok {
		return existing, false
	}
	s.sessions[key] = session
	// best-effort liveness marker
	if err := s.client.Set(context.Background(), s.redisKey(key), "1", s.ttl).Err(); err != nil {
		slog.Warn("mark attempt session", "session", key.String(), "error", err)
	}
	return session, true
}

func (s *SessionStore) Delete(key app.SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; !ok {
		return
	}
	delete(s.sessions, key)
	_ = s.client.Del(context.Background(), s.redisKey(key)).Err()
}

// KeepAlive rewrites the markers of the sessions held by this instance every
// interval, so attempts that outlive the TTL stay visible. It returns when ctx
// is done.
func (s *SessionStore) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("refresh attempt session markers", "error", err)
			}
		}
	}
}

func (s *SessionStore) refresh(ctx context.Context) error {
	s.mu.RLock()
	keys := make([]app.SessionKey, 0, len(s.sessions))
	for key := range s.sessions {
		keys = append(keys, key)
	}
	s.mu.RUnlock()
	if len(keys) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Set(ctx, s.redisKey(key), "1", s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Open reports whether any instance holds a live marker for the attempt.
// It is meant for operators and diagnostics; attempt routing never reads it.
func (s *SessionStore) Open(ctx context.Context, key app.SessionKey) (bool, error) {
	n, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SessionStore) redisKey(key app.SessionKey) string {
	return "attempt:session:" + key.QuizID + ":" + key.UserID
}
