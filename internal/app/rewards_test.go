package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"boss-battle-service/internal/app"
	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/infra/memory"
)

// flakyCreditStore fails selected CreditParticipant calls before delegating,
// to drive rewards through the retry queue. failFirst fails that many leading
// calls; failNth additionally fails the call with that ordinal.
type flakyCreditStore struct {
	*memory.BattleStore
	failFirst int32
	failNth   int32
	calls     int32
}

func (s *flakyCreditStore) CreditParticipant(ctx context.Context, battleID, studentID string, xp, gp int) error {
	n := atomic.AddInt32(&s.calls, 1)
	if n <= atomic.LoadInt32(&s.failFirst) || n == atomic.LoadInt32(&s.failNth) {
		return errors.New("credit backend unavailable")
	}
	return s.BattleStore.CreditParticipant(ctx, battleID, studentID, xp, gp)
}

func newFlakyEngine(t *testing.T, battle domain.Battle, store *flakyCreditStore) (*app.BattleService, *memory.ProfileStore) {
	t.Helper()
	ctx := context.Background()

	profiles := memory.NewProfileStore()
	banks := memory.NewBankRepository(memory.NewStaticBankLoader(map[string]domain.QuestionBank{
		"bank-1": testBank(),
	}), time.Minute)
	service := app.NewBattleService(store, memory.NewAttemptStore(), banks, profiles)

	if _, err := service.CreateBattle(ctx, battle); err != nil {
		t.Fatalf("create battle: %v", err)
	}
	if _, err := service.ActivateBattle(ctx, battle.ID); err != nil {
		t.Fatalf("activate battle: %v", err)
	}
	return service, profiles
}

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestRewardRetrierRecoversFailedAnswerCredit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	battles := &flakyCreditStore{BattleStore: memory.NewBattleStore(), failFirst: 1}
	service, profiles := newFlakyEngine(t, testBattle(100, 10), battles)
	go service.RunRewardRetrier(ctx)

	if _, err := service.StartAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	outcome, err := service.AnswerQuestion(ctx, "battle-1", "s1", "q1", "o2")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	// The failed credit never blocks the answer itself.
	if !outcome.IsCorrect || outcome.DamageDealt != 10 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	waitFor(t, func() bool {
		p, err := battles.GetParticipant(ctx, "battle-1", "s1")
		return err == nil && p.XPEarned == 20 && p.GPEarned == 5
	})
	profile, ok := profiles.GetProfile(ctx, "s1")
	if !ok || profile.XP != 20 || profile.GP != 5 {
		t.Fatalf("expected profile credited after retry, got %+v", profile)
	}
}

func TestVictoryBonusRetriedButPaidOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// With one student and a one-hit boss the first credit call is the
	// per-answer reward and the second is the bonus; failing the second
	// pushes only the bonus through the retry queue.
	battles := &flakyCreditStore{BattleStore: memory.NewBattleStore(), failNth: 2}
	service, profiles := newFlakyEngine(t, testBattle(10, 10), battles)

	if _, err := service.StartAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	outcome, err := service.AnswerQuestion(ctx, "battle-1", "s1", "q1", "o2")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !outcome.Victory {
		t.Fatalf("expected killing blow, got %+v", outcome)
	}

	// The claim was made by the crossing even though the payment is pending.
	p, err := battles.GetParticipant(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if !p.VictoryBonusPaid {
		t.Fatalf("expected claim recorded at the crossing, got %+v", p)
	}
	if p.XPEarned != 20 {
		t.Fatalf("expected only the answer reward so far, got %+v", p)
	}

	go service.RunRewardRetrier(ctx)

	waitFor(t, func() bool {
		p, err := battles.GetParticipant(ctx, "battle-1", "s1")
		return err == nil && p.XPEarned == 120 && p.GPEarned == 55
	})
	profile, ok := profiles.GetProfile(ctx, "s1")
	if !ok || profile.XP != 120 || profile.GP != 55 {
		t.Fatalf("expected exactly one bonus in profile, got %+v", profile)
	}
}
