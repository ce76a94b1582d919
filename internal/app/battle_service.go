package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"boss-battle-service/internal/domain"

	"github.com/google/uuid"
)

// BattleStore is the durable battle and participant ledger. Every method is an
// atomic unit relative to other callers on the same battle: the in-memory
// implementation holds a per-battle mutex, the postgres implementation runs a
// row-locked transaction. Methods may return domain.ErrConflict when an
// optimistic update loses a race; callers retry.
type BattleStore interface {
	CreateBattle(ctx context.Context, b domain.Battle) error
	GetBattle(ctx context.Context, battleID string) (domain.Battle, error)
	DeleteBattle(ctx context.Context, battleID string) error
	ListBattlesByClassroom(ctx context.Context, classroomID string) ([]domain.Battle, error)
	ListBattlesByStatus(ctx context.Context, statuses ...domain.BattleStatus) ([]domain.Battle, error)

	// TransitionStatus moves the battle to `to` when its current status is one
	// of `from`, otherwise returns domain.ErrInvalidTransition. Transitions to a
	// terminal status stamp CompletedAt.
	TransitionStatus(ctx context.Context, battleID string, from []domain.BattleStatus, to domain.BattleStatus) (domain.Battle, error)

	GetParticipant(ctx context.Context, battleID, studentID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, battleID string) ([]domain.Participant, error)

	// BeginAttempt checks that the battle is ACTIVE, that the student has
	// attempts left and no open attempt, then spends one attempt and raises the
	// battling flag, creating the participant on first use. All of it commits
	// or none of it does.
	BeginAttempt(ctx context.Context, battleID, studentID string) (domain.Battle, domain.Participant, error)
	// EndAttempt lowers the battling flag. Calling it with no open attempt, or
	// for a student who never joined, is a no-op.
	EndAttempt(ctx context.Context, battleID, studentID string) error

	// ApplyBossDamage clamps the delta to the remaining boss HP, decrements the
	// shared counter, and bumps the student's damage and correct-answer
	// totals. The single call that takes HP from >0 to 0 also marks the battle
	// VICTORY and claims the victory-bonus flag of every currently-battling
	// participant, all inside the same atomic unit.
	ApplyBossDamage(ctx context.Context, battleID, studentID string, damage int) (domain.DamageResult, error)

	// RecordWrongAnswer bumps the student's wrong-answer total.
	RecordWrongAnswer(ctx context.Context, battleID, studentID string) error

	// CreditParticipant adds to the participant's earned XP/GP totals.
	CreditParticipant(ctx context.Context, battleID, studentID string, xp, gp int) error
}

// AttemptStore keeps the ephemeral open attempts (question snapshot + cursor).
// Attempts outlive nothing: they exist only while the battling flag is up.
type AttemptStore interface {
	Put(a *Attempt)
	Get(battleID, studentID string) (*Attempt, bool)
	Delete(battleID, studentID string)
}

// BankRepository loads question-bank snapshots (from cache/backing store).
type BankRepository interface {
	GetBank(ctx context.Context, bankID string) (domain.QuestionBank, error)
}

// Evaluator is the external answer-correctness collaborator.
type Evaluator interface {
	CheckAnswer(q domain.Question, answer string) domain.Evaluation
}

// ProfileStore applies point deltas to a student's classroom profile.
// Implementations floor student HP at zero.
type ProfileStore interface {
	AddPoints(ctx context.Context, studentID string, xp, gp, hp int) (domain.Profile, error)
}

// StatusCache serves slightly-stale battle snapshots to the polling read path.
type StatusCache interface {
	Get(ctx context.Context, battleID string) (domain.BattleStatusView, bool)
	Put(ctx context.Context, view domain.BattleStatusView)
	Invalidate(ctx context.Context, battleID string)
}

// BattleService contains the boss-battle use cases: lifecycle, attempts,
// damage resolution, and reward crediting.
type BattleService struct {
	battles  BattleStore
	attempts AttemptStore
	banks    BankRepository
	profiles ProfileStore
	eval     Evaluator
	cache    StatusCache
	feed     *statusFeed
	rewards  *rewardQueue
	now      func() time.Time
}

func NewBattleService(battles BattleStore, attempts AttemptStore, banks BankRepository, profiles ProfileStore) *BattleService {
	return &BattleService{
		battles:  battles,
		attempts: attempts,
		banks:    banks,
		profiles: profiles,
		eval:     MultipleChoiceEvaluator{},
		feed:     newStatusFeed(),
		rewards:  newRewardQueue(),
		now:      time.Now,
	}
}

// NewBattleServiceWithClock is test-only for deterministic timestamps.
func NewBattleServiceWithClock(battles BattleStore, attempts AttemptStore, banks BankRepository, profiles ProfileStore, now func() time.Time) *BattleService {
	s := NewBattleService(battles, attempts, banks, profiles)
	s.now = now
	return s
}

// UseStatusCache plugs in an optional cache for GetBattleStatus polling.
func (s *BattleService) UseStatusCache(cache StatusCache) {
	s.cache = cache
}

// UseEvaluator replaces the default multiple-choice evaluator.
func (s *BattleService) UseEvaluator(eval Evaluator) {
	s.eval = eval
}

// CreateBattle validates the configuration and stores a new DRAFT battle.
// Nothing is mutated when validation fails.
func (s *BattleService) CreateBattle(ctx context.Context, b domain.Battle) (domain.Battle, error) {
	if err := validateBattle(b); err != nil {
		return domain.Battle{}, err
	}
	if _, err := s.banks.GetBank(ctx, b.QuestionBankID); err != nil {
		return domain.Battle{}, fmt.Errorf("%w: question bank %q: %v", domain.ErrValidation, b.QuestionBankID, err)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Status = domain.StatusDraft
	b.BossCurrentHP = b.BossMaxHP
	b.CompletedAt = nil
	if err := s.battles.CreateBattle(ctx, b); err != nil {
		return domain.Battle{}, err
	}
	return b, nil
}

func validateBattle(b domain.Battle) error {
	switch {
	case b.ClassroomID == "":
		return fmt.Errorf("%w: classroom id required", domain.ErrValidation)
	case b.QuestionBankID == "":
		return fmt.Errorf("%w: question bank id required", domain.ErrValidation)
	case b.BossMaxHP <= 0:
		return fmt.Errorf("%w: boss max hp must be positive", domain.ErrValidation)
	case b.QuestionsPerAttempt <= 0:
		return fmt.Errorf("%w: questions per attempt must be positive", domain.ErrValidation)
	case b.DamagePerCorrect <= 0:
		return fmt.Errorf("%w: damage per correct must be positive", domain.ErrValidation)
	case b.DamageToStudentOnWrong < 0:
		return fmt.Errorf("%w: damage to student must not be negative", domain.ErrValidation)
	case b.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts must be positive", domain.ErrValidation)
	case b.XPPerCorrectAnswer < 0 || b.GPPerCorrectAnswer < 0 || b.BonusXPOnVictory < 0 || b.BonusGPOnVictory < 0:
		return fmt.Errorf("%w: rewards must not be negative", domain.ErrValidation)
	case b.StartDate != nil && b.EndDate != nil && b.EndDate.Before(*b.StartDate):
		return fmt.Errorf("%w: end date before start date", domain.ErrValidation)
	}
	return nil
}

// ActivateBattle moves a DRAFT battle into play. A battle with a start date
// still in the future becomes SCHEDULED; otherwise it becomes ACTIVE
// immediately. SCHEDULED battles may be activated manually ahead of their
// start date. Any other state fails with ErrInvalidTransition.
func (s *BattleService) ActivateBattle(ctx context.Context, battleID string) (domain.Battle, error) {
	b, err := s.battles.GetBattle(ctx, battleID)
	if err != nil {
		return domain.Battle{}, err
	}
	if b.Status == domain.StatusDraft && b.StartDate != nil && b.StartDate.After(s.now()) {
		return s.battles.TransitionStatus(ctx, battleID, []domain.BattleStatus{domain.StatusDraft}, domain.StatusScheduled)
	}
	return s.battles.TransitionStatus(ctx, battleID,
		[]domain.BattleStatus{domain.StatusDraft, domain.StatusScheduled}, domain.StatusActive)
}

// GetBattle returns the battle with any due window transition applied.
func (s *BattleService) GetBattle(ctx context.Context, battleID string) (domain.Battle, error) {
	return s.EvaluateExpiry(ctx, battleID)
}

// ListBattlesForClassroom returns every battle configured for the classroom,
// regardless of status.
func (s *BattleService) ListBattlesForClassroom(ctx context.Context, classroomID string) ([]domain.Battle, error) {
	return s.battles.ListBattlesByClassroom(ctx, classroomID)
}

// DeleteBattle removes a battle and cascades its participants. The open
// attempts of that battle are dropped as they are found.
func (s *BattleService) DeleteBattle(ctx context.Context, battleID string) error {
	parts, err := s.battles.ListParticipants(ctx, battleID)
	if err == nil {
		for _, p := range parts {
			s.attempts.Delete(battleID, p.StudentID)
		}
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, battleID)
	}
	return s.battles.DeleteBattle(ctx, battleID)
}

// EvaluateExpiry applies any due time-window transition: SCHEDULED battles
// past their start date become ACTIVE, ACTIVE battles past their end date
// become COMPLETED. It is called opportunistically on reads and from the
// sweep loop, and returns the battle's current record either way.
func (s *BattleService) EvaluateExpiry(ctx context.Context, battleID string) (domain.Battle, error) {
	b, err := s.battles.GetBattle(ctx, battleID)
	if err != nil {
		return domain.Battle{}, err
	}
	now := s.now()

	switch {
	case b.Status == domain.StatusScheduled && b.StartDate != nil && !b.StartDate.After(now):
		moved, err := s.battles.TransitionStatus(ctx, battleID, []domain.BattleStatus{domain.StatusScheduled}, domain.StatusActive)
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Another caller already moved it.
			return s.battles.GetBattle(ctx, battleID)
		}
		return moved, err
	case b.Status == domain.StatusActive && b.EndDate != nil && now.After(*b.EndDate):
		moved, err := s.battles.TransitionStatus(ctx, battleID, []domain.BattleStatus{domain.StatusActive}, domain.StatusCompleted)
		if errors.Is(err, domain.ErrInvalidTransition) {
			return s.battles.GetBattle(ctx, battleID)
		}
		if err == nil {
			s.publishStatus(ctx, battleID)
		}
		return moved, err
	}
	return b, nil
}

// RunExpirySweep periodically re-evaluates all SCHEDULED and ACTIVE battles
// until the context is canceled.
func (s *BattleService) RunExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			battles, err := s.battles.ListBattlesByStatus(ctx, domain.StatusScheduled, domain.StatusActive)
			if err != nil {
				log.Printf("expiry sweep: list battles: %v", err)
				continue
			}
			for _, b := range battles {
				if _, err := s.EvaluateExpiry(ctx, b.ID); err != nil {
					log.Printf("expiry sweep: battle %s: %v", b.ID, err)
				}
			}
		}
	}
}

// maybeDefeat moves an ACTIVE battle to DEFEAT once every known participant
// has exhausted the attempt quota with the boss still standing. Checked
// opportunistically when an attempt closes.
func (s *BattleService) maybeDefeat(ctx context.Context, battleID string) {
	b, err := s.battles.GetBattle(ctx, battleID)
	if err != nil || b.Status != domain.StatusActive {
		return
	}
	parts, err := s.battles.ListParticipants(ctx, battleID)
	if err != nil || len(parts) == 0 {
		return
	}
	for _, p := range parts {
		if p.IsCurrentlyBattling || p.AttemptsUsed < b.MaxAttempts {
			return
		}
	}
	if _, err := s.battles.TransitionStatus(ctx, battleID, []domain.BattleStatus{domain.StatusActive}, domain.StatusDefeat); err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			log.Printf("defeat transition for battle %s: %v", battleID, err)
		}
		return
	}
	s.publishStatus(ctx, battleID)
}
