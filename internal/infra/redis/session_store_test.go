package redis

import (
	"context"
	"testing"
	"time"

	"concept-master-quiz/internal/app"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSessionStoreSetsAndClearsMarkers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)
	key := app.SessionKey{QuizID: "quiz-1", UserID: "user-1"}

	session := app.NewSession(key.QuizID, key.UserID, app.SessionConfig{})
	if _, created := store.PutIfAbsent(key, session); !created {
		t.Fatalf("expected session registered")
	}
	if !mr.Exists("attempt:session:quiz-1:user-1") {
		t.Fatalf("expected liveness marker to be set")
	}
	if ttl := mr.TTL("attempt:session:quiz-1:user-1"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}
	open, err := store.Open(context.Background(), key)
	if err != nil || !open {
		t.Fatalf("expected attempt open, got %v %v", open, err)
	}

	store.Delete(key)
	if mr.Exists("attempt:session:quiz-1:user-1") {
		t.Fatalf("expected liveness marker to be removed")
	}
	if _, ok := store.Get(key); ok {
		t.Fatalf("expected session removed")
	}
}

func TestSessionStoreRefreshKeepsMarkersAlive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Minute)
	key := app.SessionKey{QuizID: "quiz-1", UserID: "user-1"}
	store.PutIfAbsent(key, app.NewSession(key.QuizID, key.UserID, app.SessionConfig{}))

	mr.FastForward(50 * time.Second)
	if err := store.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mr.FastForward(50 * time.Second)
	if !mr.Exists("attempt:session:quiz-1:user-1") {
		t.Fatalf("expected refreshed marker to outlive the original ttl")
	}

	// a marker lost on the server is written again
	mr.Del("attempt:session:quiz-1:user-1")
	if err := store.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if ttl := mr.TTL("attempt:session:quiz-1:user-1"); ttl != time.Minute {
		t.Fatalf("expected marker restored with 1m ttl, got %v", ttl)
	}
}
