package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"boss-battle-service/internal/domain"
)

// maxDamageRetries bounds transparent retries after a lost optimistic-lock
// race before the caller is told to resubmit.
const maxDamageRetries = 3

const damageRetryBackoff = 10 * time.Millisecond

// AnswerQuestion resolves one submitted answer. A correct answer decrements
// the shared boss HP (clamped, atomic, linearized by the store); a wrong
// answer costs the student their own HP. The call that crosses boss HP to
// zero finalizes the victory.
func (s *BattleService) AnswerQuestion(ctx context.Context, battleID, studentID, questionID, answer string) (domain.AnswerOutcome, error) {
	attempt, ok := s.attempts.Get(battleID, studentID)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrNoOpenAttempt
	}

	question, left, err := attempt.take(questionID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	eval := s.eval.CheckAnswer(question, answer)
	outcome := domain.AnswerOutcome{
		QuestionID:    questionID,
		IsCorrect:     eval.IsCorrect,
		CorrectAnswer: eval.CorrectAnswer,
		Explanation:   eval.Explanation,
		QuestionsLeft: left,
	}

	if !eval.IsCorrect {
		return s.resolveWrongAnswer(ctx, attempt, outcome)
	}

	result, err := s.applyDamageWithRetry(ctx, battleID, studentID, attempt.battle.DamagePerCorrect)
	if err != nil {
		// The answer's effect was not committed; re-open the question so the
		// student can try again rather than losing it.
		attempt.untake(questionID)
		outcome.QuestionsLeft = left + 1
		return outcome, err
	}

	outcome.DamageDealt = result.DamageDealt
	outcome.BossHP = result.BossHP
	outcome.Victory = result.Victory
	outcome.BattleEnded = result.Ended || result.Victory

	if !result.Ended {
		s.creditCorrectAnswer(ctx, attempt.battle, studentID)
	}
	if result.KillCrossing {
		attempt.markTerminated()
		s.onZeroHP(ctx, attempt.battle, result)
	}
	s.publishStatus(ctx, battleID)
	return outcome, nil
}

// applyDamageWithRetry retries lost races a bounded number of times. Integrity
// violations are never retried: the battle is halted for operator attention.
func (s *BattleService) applyDamageWithRetry(ctx context.Context, battleID, studentID string, damage int) (domain.DamageResult, error) {
	var lastErr error
	for i := 0; i < maxDamageRetries; i++ {
		result, err := s.battles.ApplyBossDamage(ctx, battleID, studentID, damage)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, domain.ErrIntegrity) {
			log.Printf("HALT battle %s: %v", battleID, err)
			return domain.DamageResult{}, err
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.DamageResult{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return domain.DamageResult{}, ctx.Err()
		case <-time.After(damageRetryBackoff):
		}
	}
	return domain.DamageResult{}, fmt.Errorf("%w: %v", domain.ErrRetryExhausted, lastErr)
}

func (s *BattleService) resolveWrongAnswer(ctx context.Context, attempt *Attempt, outcome domain.AnswerOutcome) (domain.AnswerOutcome, error) {
	battleID, studentID := attempt.battleID, attempt.studentID

	b, err := s.battles.GetBattle(ctx, battleID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	outcome.BossHP = b.BossCurrentHP

	// Once the battle is over a wrong answer is a no-op, like a late hit: no
	// counter bump, no student HP loss.
	if b.Status.Terminal() {
		outcome.BattleEnded = true
		outcome.Victory = b.Status == domain.StatusVictory
		return outcome, nil
	}

	if err := s.battles.RecordWrongAnswer(ctx, battleID, studentID); err != nil {
		return domain.AnswerOutcome{}, err
	}

	hit := attempt.battle.DamageToStudentOnWrong
	outcome.DamageReceived = hit

	// The student HP pool is per-student: no cross-student race, and a write
	// failure here is a downstream effect retried asynchronously. Until the
	// retry lands the student's HP is unknown, so the field stays unset.
	profile, err := s.profiles.AddPoints(ctx, studentID, 0, 0, -hit)
	if err != nil {
		log.Printf("student hp write for %s failed, queued for retry: %v", studentID, err)
		s.rewards.enqueue(rewardJob{kind: jobStudentHP, battleID: battleID, studentID: studentID, hp: -hit})
	} else {
		hp := profile.HP
		outcome.StudentHP = &hp
	}
	return outcome, nil
}

// onZeroHP runs the victory sequence for the single kill-crossing call: the
// status flip already committed with the crossing, so what remains is paying
// the claimed bonuses and telling the spectators.
func (s *BattleService) onZeroHP(ctx context.Context, battle domain.Battle, result domain.DamageResult) {
	log.Printf("battle %s: boss %q defeated, paying %d victory bonuses", battle.ID, battle.BossName, len(result.BonusClaims))
	for _, studentID := range result.BonusClaims {
		s.payVictoryBonus(ctx, battle, studentID)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, battle.ID)
	}
}

// MultipleChoiceEvaluator is the default Answer Evaluator: the submitted
// answer is an option id, correct when that option carries the flag.
type MultipleChoiceEvaluator struct{}

func (MultipleChoiceEvaluator) CheckAnswer(q domain.Question, answer string) domain.Evaluation {
	correctID := ""
	for _, opt := range q.Options {
		if opt.Correct {
			correctID = opt.ID
			break
		}
	}
	return domain.Evaluation{
		IsCorrect:     answer != "" && answer == correctID,
		CorrectAnswer: correctID,
	}
}
