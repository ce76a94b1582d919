package memory

import (
	"context"
	"sync"

	"boss-battle-service/internal/domain"
)

// DefaultStudentHP is the HP pool a profile starts with.
const DefaultStudentHP = 100

// ProfileStore keeps student point totals in memory. Each profile has a
// single writer per request; the mutex covers map access.
type ProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]*domain.Profile)}
}

// Seed installs a profile, replacing any existing one.
func (s *ProfileStore) Seed(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := p
	s.profiles[p.StudentID] = &copied
}

// AddPoints applies the deltas, creating the profile on first use. Student HP
// floors at zero and never exceeds the starting pool.
func (s *ProfileStore) AddPoints(_ context.Context, studentID string, xp, gp, hp int) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[studentID]
	if !ok {
		p = &domain.Profile{StudentID: studentID, HP: DefaultStudentHP}
		s.profiles[studentID] = p
	}
	p.XP += xp
	p.GP += gp
	p.HP += hp
	if p.HP < 0 {
		p.HP = 0
	}
	if p.HP > DefaultStudentHP {
		p.HP = DefaultStudentHP
	}
	return *p, nil
}

// GetProfile returns the student's profile if one exists.
func (s *ProfileStore) GetProfile(_ context.Context, studentID string) (domain.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[studentID]; ok {
		return *p, true
	}
	return domain.Profile{}, false
}
