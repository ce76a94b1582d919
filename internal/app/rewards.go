package app

import (
	"context"
	"log"
	"time"

	"boss-battle-service/internal/domain"
)

const (
	jobAnswer       = "correctAnswer"
	jobVictoryBonus = "victoryBonus"
	jobStudentHP    = "studentHp"

	maxRewardAttempts = 5
	rewardRetryDelay  = 2 * time.Second
)

// rewardJob is one pending reward write. Reward crediting is an at-least-once
// downstream effect of the authoritative boss-HP mutation: the battle's truth
// is never rolled back when one of these fails, the job is simply retried.
// Exactly-once bonus *payment* is guaranteed upstream by the victoryBonusPaid
// claim made inside the kill-crossing transaction.
type rewardJob struct {
	kind      string
	battleID  string
	studentID string
	xp        int
	gp        int
	hp        int
	attempts  int
}

type rewardQueue struct {
	jobs chan rewardJob
}

func newRewardQueue() *rewardQueue {
	return &rewardQueue{jobs: make(chan rewardJob, 256)}
}

func (q *rewardQueue) enqueue(job rewardJob) {
	select {
	case q.jobs <- job:
	default:
		log.Printf("reward queue full, dropping %s job for student %s in battle %s", job.kind, job.studentID, job.battleID)
	}
}

// creditCorrectAnswer pays the per-answer XP/GP. It is driven one-for-one by
// the damage resolver, so no idempotency guard is needed here.
func (s *BattleService) creditCorrectAnswer(ctx context.Context, battle domain.Battle, studentID string) {
	job := rewardJob{
		kind:      jobAnswer,
		battleID:  battle.ID,
		studentID: studentID,
		xp:        battle.XPPerCorrectAnswer,
		gp:        battle.GPPerCorrectAnswer,
	}
	if err := s.commitReward(ctx, job); err != nil {
		log.Printf("answer reward for %s in battle %s failed, queued for retry: %v", studentID, battle.ID, err)
		s.rewards.enqueue(job)
	}
}

// payVictoryBonus pays the one-time bonus for a student whose claim was made
// by the kill crossing.
func (s *BattleService) payVictoryBonus(ctx context.Context, battle domain.Battle, studentID string) {
	job := rewardJob{
		kind:      jobVictoryBonus,
		battleID:  battle.ID,
		studentID: studentID,
		xp:        battle.BonusXPOnVictory,
		gp:        battle.BonusGPOnVictory,
	}
	if err := s.commitReward(ctx, job); err != nil {
		log.Printf("victory bonus for %s in battle %s failed, queued for retry: %v", studentID, battle.ID, err)
		s.rewards.enqueue(job)
	}
}

func (s *BattleService) commitReward(ctx context.Context, job rewardJob) error {
	switch job.kind {
	case jobStudentHP:
		_, err := s.profiles.AddPoints(ctx, job.studentID, 0, 0, job.hp)
		return err
	default:
		if err := s.battles.CreditParticipant(ctx, job.battleID, job.studentID, job.xp, job.gp); err != nil {
			return err
		}
		_, err := s.profiles.AddPoints(ctx, job.studentID, job.xp, job.gp, 0)
		return err
	}
}

// RunRewardRetrier drains the retry queue until the context is canceled.
// Jobs that keep failing are dropped after a bounded number of attempts with
// a log line for the operator.
func (s *BattleService) RunRewardRetrier(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.rewards.jobs:
			if err := s.commitReward(ctx, job); err == nil {
				continue
			} else if job.attempts++; job.attempts >= maxRewardAttempts {
				log.Printf("giving up on %s job for student %s in battle %s after %d attempts: %v",
					job.kind, job.studentID, job.battleID, job.attempts, err)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(rewardRetryDelay):
			}
			s.rewards.enqueue(job)
		}
	}
}
