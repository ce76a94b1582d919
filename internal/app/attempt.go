package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"boss-battle-service/internal/domain"
)

// insufficientQuestionsWarning is surfaced when a bank is smaller than
// questionsPerAttempt and the draw falls back to sampling with replacement.
const insufficientQuestionsWarning = "insufficient questions in bank; drew with replacement"

// Attempt is one student's open session against a battle: an immutable
// question snapshot taken at start, plus a cursor over answered questions.
// Its mutex serializes that student's own submissions (two tabs); nothing
// else touches it.
type Attempt struct {
	battleID  string
	studentID string
	battle    domain.Battle
	questions []domain.Question
	startedAt time.Time

	// answered counts submissions per question id. A short bank draws with
	// replacement, so one id can appear in the set more than once and stays
	// answerable once per drawn copy.
	mu         sync.Mutex
	answered   map[string]int
	terminated bool
}

func newAttempt(b domain.Battle, studentID string, questions []domain.Question, now func() time.Time) *Attempt {
	return &Attempt{
		battleID:  b.ID,
		studentID: studentID,
		battle:    b,
		questions: questions,
		startedAt: now(),
		answered:  make(map[string]int),
	}
}

// NewAttempt is exported for infrastructure layers that need to seed attempts.
func NewAttempt(b domain.Battle, studentID string, questions []domain.Question) *Attempt {
	return newAttempt(b, studentID, questions, time.Now)
}

func (a *Attempt) BattleID() string  { return a.battleID }
func (a *Attempt) StudentID() string { return a.studentID }

// take marks one copy of a question as answered and returns it together with
// the number of questions still open. Within one attempt every drawn copy is
// answerable exactly once.
func (a *Attempt) take(questionID string) (domain.Question, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var question *domain.Question
	drawn := 0
	for i := range a.questions {
		if a.questions[i].ID == questionID {
			question = &a.questions[i]
			drawn++
		}
	}
	if question == nil {
		return domain.Question{}, a.remainingLocked(), domain.ErrQuestionNotFound
	}
	if a.answered[questionID] >= drawn {
		return domain.Question{}, a.remainingLocked(), domain.ErrQuestionAlreadyAnswered
	}
	a.answered[questionID]++
	return *question, a.remainingLocked(), nil
}

// untake re-opens a question copy whose damage application failed, so the
// student can resubmit instead of silently losing the answer.
func (a *Attempt) untake(questionID string) {
	a.mu.Lock()
	if a.answered[questionID] > 0 {
		a.answered[questionID]--
	}
	a.mu.Unlock()
}

func (a *Attempt) markTerminated() {
	a.mu.Lock()
	a.terminated = true
	a.mu.Unlock()
}

// Terminated reports whether the boss died while this attempt was open.
func (a *Attempt) Terminated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminated
}

func (a *Attempt) remainingLocked() int {
	n := len(a.questions)
	for _, count := range a.answered {
		n -= count
	}
	if n < 0 {
		n = 0
	}
	return n
}

// StartAttempt opens an attempt for a student. The quota check, the open-
// attempt check, and the attempt spend are one atomic unit in the store, so
// two simultaneous calls from the same student cannot both pass. The question
// set is drawn from an immutable bank snapshot and stripped of answers.
func (s *BattleService) StartAttempt(ctx context.Context, battleID, studentID string) (domain.AttemptView, error) {
	// Opportunistic window transitions before the precondition checks.
	if _, err := s.EvaluateExpiry(ctx, battleID); err != nil {
		return domain.AttemptView{}, err
	}

	// Load the bank before spending the attempt: a failure here must leave
	// attemptsUsed untouched.
	b, err := s.battles.GetBattle(ctx, battleID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	bank, err := s.banks.GetBank(ctx, b.QuestionBankID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	if len(bank.Questions) == 0 {
		return domain.AttemptView{}, fmt.Errorf("%w: question bank %q is empty", domain.ErrValidation, b.QuestionBankID)
	}

	b, participant, err := s.battles.BeginAttempt(ctx, battleID, studentID)
	if err != nil {
		return domain.AttemptView{}, err
	}

	questions, warning := sampleQuestions(bank.Questions, b.QuestionsPerAttempt)
	attempt := newAttempt(b, studentID, questions, s.now)
	s.attempts.Put(attempt)
	s.publishStatus(ctx, battleID)

	views := make([]domain.QuestionView, len(questions))
	for i, q := range questions {
		views[i] = q.View()
	}
	return domain.AttemptView{
		BattleID:     battleID,
		StudentID:    studentID,
		Questions:    views,
		BossHP:       b.BossCurrentHP,
		AttemptsUsed: participant.AttemptsUsed,
		MaxAttempts:  b.MaxAttempts,
		Warning:      warning,
	}, nil
}

// FinishAttempt closes the student's open attempt. Calling it again, or
// without an open attempt, changes nothing.
func (s *BattleService) FinishAttempt(ctx context.Context, battleID, studentID string) error {
	s.attempts.Delete(battleID, studentID)
	if err := s.battles.EndAttempt(ctx, battleID, studentID); err != nil {
		return err
	}
	s.maybeDefeat(ctx, battleID)
	s.publishStatus(ctx, battleID)
	return nil
}

// sampleQuestions draws n questions uniformly without replacement. A bank
// smaller than n is not an error: the draw repeats questions and the caller
// gets a warning to surface.
func sampleQuestions(pool []domain.Question, n int) ([]domain.Question, string) {
	if len(pool) >= n {
		picked := make([]domain.Question, 0, n)
		for _, i := range rand.Perm(len(pool))[:n] {
			picked = append(picked, pool[i])
		}
		return picked, ""
	}

	picked := make([]domain.Question, 0, n)
	picked = append(picked, pool...)
	rand.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})
	for len(picked) < n {
		picked = append(picked, pool[rand.Intn(len(pool))])
	}
	return picked, insufficientQuestionsWarning
}
