package redis

import (
	"context"
	"sync"
	"time"

	"boss-battle-service/internal/app"

	"github.com/redis/go-redis/v9"
)

// AttemptStore is a Redis-aware implementation of app.AttemptStore.
// Notes:
//   - Attempts themselves stay in a local map: the question snapshot and
//     cursor are in-process state bound to the student's connection.
//   - Redis marks attempt liveness, which feeds operator tooling and could be
//     extended to fence a student across instances.
type AttemptStore struct {
	client *redis.Client
	ttl    time.Duration

	mu       sync.RWMutex
	attempts map[string]*app.Attempt
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{
		client:   client,
		ttl:      ttl,
		attempts: make(map[string]*app.Attempt),
	}
}

func (s *AttemptStore) Put(a *app.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey(a.BattleID(), a.StudentID())
	s.attempts[key] = a
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), livenessKey(a.BattleID(), a.StudentID()), "1", s.ttl).Err()
}

func (s *AttemptStore) Get(battleID, studentID string) (*app.Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[attemptKey(battleID, studentID)]
	return a, ok
}

func (s *AttemptStore) Delete(battleID, studentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptKey(battleID, studentID))
	_ = s.client.Del(context.Background(), livenessKey(battleID, studentID)).Err()
}

func attemptKey(battleID, studentID string) string {
	return battleID + "/" + studentID
}

func livenessKey(battleID, studentID string) string {
	return "battle:attempt:" + battleID + ":" + studentID
}
