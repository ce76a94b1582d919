package memory

import (
	"sync"

	"boss-battle-service/internal/app"
)

// AttemptStore is the in-memory implementation of app.AttemptStore, keyed by
// (battle, student).
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*app.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]*app.Attempt)}
}

func (s *AttemptStore) Put(a *app.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attemptKey(a.BattleID(), a.StudentID())] = a
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
}

func attemptKey(battleID, studentID string) string {
	return battleID + "/" + studentID
}
