package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"boss-battle-service/internal/domain"
)

// BattleStore is the in-process battle and participant ledger. Each battle
// record carries its own mutex, so read-modify-write cycles on one battle are
// linearized while unrelated battles never contend.
type BattleStore struct {
	clock func() time.Time

	mu      sync.RWMutex
	battles map[string]*battleRecord
}

type battleRecord struct {
	mu           sync.Mutex
	battle       domain.Battle
	participants map[string]*domain.Participant
}

func NewBattleStore() *BattleStore {
	return &BattleStore{
		clock:   time.Now,
		battles: make(map[string]*battleRecord),
	}
}

// NewBattleStoreWithClock is test-only for deterministic timestamps.
func NewBattleStoreWithClock(now func() time.Time) *BattleStore {
	s := NewBattleStore()
	s.clock = now
	return s
}

func (s *BattleStore) record(battleID string) (*battleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.battles[battleID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	return rec, nil
}

func (s *BattleStore) CreateBattle(_ context.Context, b domain.Battle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.battles[b.ID]; ok {
		return domain.ErrConflict
	}
	s.battles[b.ID] = &battleRecord{
		battle:       b,
		participants: make(map[string]*domain.Participant),
	}
	return nil
}

func (s *BattleStore) GetBattle(_ context.Context, battleID string) (domain.Battle, error) {
	rec, err := s.record(battleID)
	if err != nil {
		return domain.Battle{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.battle, nil
}

func (s *BattleStore) DeleteBattle(_ context.Context, battleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.battles[battleID]; !ok {
		return domain.ErrBattleNotFound
	}
	// Participants live inside the record, so dropping it cascades.
	delete(s.battles, battleID)
	return nil
}

func (s *BattleStore) ListBattlesByClassroom(_ context.Context, classroomID string) ([]domain.Battle, error) {
	s.mu.RLock()
	records := make([]*battleRecord, 0, len(s.battles))
	for _, rec := range s.battles {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	battles := make([]domain.Battle, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		if rec.battle.ClassroomID == classroomID {
			battles = append(battles, rec.battle)
		}
		rec.mu.Unlock()
	}
	sortBattles(battles)
	return battles, nil
}

func (s *BattleStore) ListBattlesByStatus(_ context.Context, statuses ...domain.BattleStatus) ([]domain.Battle, error) {
	wanted := make(map[domain.BattleStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	s.mu.RLock()
	records := make([]*battleRecord, 0, len(s.battles))
	for _, rec := range s.battles {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	battles := make([]domain.Battle, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		if wanted[rec.battle.Status] {
			battles = append(battles, rec.battle)
		}
		rec.mu.Unlock()
	}
	sortBattles(battles)
	return battles, nil
}

func (s *BattleStore) TransitionStatus(_ context.Context, battleID string, from []domain.BattleStatus, to domain.BattleStatus) (domain.Battle, error) {
	rec, err := s.record(battleID)
	if err != nil {
		return domain.Battle{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	allowed := false
	for _, st := range from {
		if rec.battle.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Battle{}, domain.ErrInvalidTransition
	}
	rec.battle.Status = to
	if to.Terminal() {
		now := s.clock()
		rec.battle.CompletedAt = &now
	}
	rec.battle.Version++
	return rec.battle, nil
}

func (s *BattleStore) GetParticipant(_ context.Context, battleID, studentID string) (domain.Participant, error) {
	rec, err := s.record(battleID)
	if err != nil {
		return domain.Participant{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p, ok := rec.participants[studentID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return *p, nil
}

func (s *BattleStore) ListParticipants(_ context.Context, battleID string) ([]domain.Participant, error) {
	rec, err := s.record(battleID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	participants := make([]domain.Participant, 0, len(rec.participants))
	for _, p := range rec.participants {
		participants = append(participants, *p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].StudentID < participants[j].StudentID
	})
	return participants, nil
}

func (s *BattleStore) BeginAttempt(_ context.Context, battleID, studentID string) (domain.Battle, domain.Participant, error) {
	rec, err := s.record(battleID)
	if err != nil {
		return domain.Battle{}, domain.Participant{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.battle.Status != domain.StatusActive {
		return domain.Battle{}, domain.Participant{}, domain.ErrBattleNotActive
	}
	p, ok := rec.participants[studentID]
	if !ok {
		p = &domain.Participant{BattleID: battleID, StudentID: studentID}
		rec.participants[studentID] = p
	}
	if p.IsCurrentlyBattling {
		return domain.Battle{}, domain.Participant{}, domain.ErrAttemptAlreadyOpen
	}
	if p.AttemptsUsed >= rec.battle.MaxAttempts {
		return domain.Battle{}, domain.Participant{}, domain.ErrAttemptQuotaExceeded
	}
	p.AttemptsUsed++
	p.IsCurrentlyBattling = true
	return rec.battle, *p, nil
}

func (s *BattleStore) EndAttempt(_ context.Context, battleID, studentID string) error {
	rec, err := s.record(battleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if p, ok := rec.participants[studentID]; ok {
		p.IsCurrentlyBattling = false
	}
	return nil
}

func (s *BattleStore) ApplyBossDamage(_ context.Context, battleID, studentID string, damage int) (domain.DamageResult, error) {
	rec, err := s.record(battleID)
	if err != nil {
		return domain.DamageResult{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	b := &rec.battle
	if b.BossCurrentHP < 0 || b.BossCurrentHP > b.BossMaxHP {
		return domain.DamageResult{}, domain.ErrIntegrity
	}
	if b.Status.Terminal() {
		return domain.DamageResult{
			BossHP:  b.BossCurrentHP,
			Ended:   true,
			Victory: b.Status == domain.StatusVictory,
		}, nil
	}
	if b.Status != domain.StatusActive {
		return domain.DamageResult{}, domain.ErrBattleNotActive
	}

	p, ok := rec.participants[studentID]
	if !ok {
		return domain.DamageResult{}, domain.ErrParticipantNotFound
	}

	if damage > b.BossCurrentHP {
		damage = b.BossCurrentHP
	}
	before := b.BossCurrentHP
	b.BossCurrentHP -= damage
	b.Version++
	p.TotalDamageDealt += damage
	p.TotalCorrectAnswers++

	result := domain.DamageResult{
		DamageDealt: damage,
		BossHP:      b.BossCurrentHP,
	}
	if before > 0 && b.BossCurrentHP == 0 {
		result.KillCrossing = true
		result.Victory = true
		b.Status = domain.StatusVictory
		now := s.clock()
		b.CompletedAt = &now
		for _, other := range rec.participants {
			if other.IsCurrentlyBattling && !other.VictoryBonusPaid {
				other.VictoryBonusPaid = true
				result.BonusClaims = append(result.BonusClaims, other.StudentID)
			}
		}
		sort.Strings(result.BonusClaims)
	}
	return result, nil
}

func (s *BattleStore) RecordWrongAnswer(_ context.Context, battleID, studentID string) error {
	rec, err := s.record(battleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p, ok := rec.participants[studentID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.TotalWrongAnswers++
	return nil
}

func (s *BattleStore) CreditParticipant(_ context.Context, battleID, studentID string, xp, gp int) error {
	rec, err := s.record(battleID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p, ok := rec.participants[studentID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.XPEarned += xp
	p.GPEarned += gp
	return nil
}

func sortBattles(battles []domain.Battle) {
	sort.Slice(battles, func(i, j int) bool { return battles[i].ID < battles[j].ID })
}
