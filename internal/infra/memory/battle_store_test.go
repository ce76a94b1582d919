package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"boss-battle-service/internal/domain"
)

func storeWithActiveBattle(t *testing.T, maxHP int) *BattleStore {
	t.Helper()
	store := NewBattleStore()
	err := store.CreateBattle(context.Background(), domain.Battle{
		ID:            "battle-1",
		ClassroomID:   "class-1",
		BossMaxHP:     maxHP,
		BossCurrentHP: maxHP,
		MaxAttempts:   3,
		Status:        domain.StatusActive,
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}
	return store
}

func beginFor(t *testing.T, store *BattleStore, studentIDs ...string) {
	t.Helper()
	for _, id := range studentIDs {
		if _, _, err := store.BeginAttempt(context.Background(), "battle-1", id); err != nil {
			t.Fatalf("begin attempt for %s: %v", id, err)
		}
	}
}

func TestApplyBossDamageClampsAtKill(t *testing.T) {
	ctx := context.Background()
	store := storeWithActiveBattle(t, 20)
	beginFor(t, store, "s1", "s2")

	first, err := store.ApplyBossDamage(ctx, "battle-1", "s1", 15)
	if err != nil {
		t.Fatalf("first hit: %v", err)
	}
	if first.DamageDealt != 15 || first.BossHP != 5 || first.KillCrossing {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := store.ApplyBossDamage(ctx, "battle-1", "s2", 15)
	if err != nil {
		t.Fatalf("second hit: %v", err)
	}
	if second.DamageDealt != 5 || second.BossHP != 0 {
		t.Fatalf("expected clamped hit, got %+v", second)
	}
	if !second.KillCrossing || !second.Victory {
		t.Fatalf("expected the crossing, got %+v", second)
	}
	// Both were battling: both claims made in the same critical section.
	if len(second.BonusClaims) != 2 || second.BonusClaims[0] != "s1" || second.BonusClaims[1] != "s2" {
		t.Fatalf("unexpected claims %v", second.BonusClaims)
	}

	b, err := store.GetBattle(ctx, "battle-1")
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if b.Status != domain.StatusVictory || b.CompletedAt == nil {
		t.Fatalf("expected finalized VICTORY, got %+v", b)
	}
}

func TestApplyBossDamageAfterTerminal(t *testing.T) {
	ctx := context.Background()
	store := storeWithActiveBattle(t, 10)
	beginFor(t, store, "s1", "s2")

	if _, err := store.ApplyBossDamage(ctx, "battle-1", "s1", 10); err != nil {
		t.Fatalf("kill: %v", err)
	}
	late, err := store.ApplyBossDamage(ctx, "battle-1", "s2", 10)
	if err != nil {
		t.Fatalf("late hit: %v", err)
	}
	if late.DamageDealt != 0 || !late.Ended || !late.Victory || late.KillCrossing {
		t.Fatalf("unexpected late result %+v", late)
	}
}

func TestApplyBossDamageConcurrentConservation(t *testing.T) {
	ctx := context.Background()
	store := storeWithActiveBattle(t, 90)

	const students = 50
	ids := make([]string, students)
	for i := range ids {
		ids[i] = string(rune('a'+i/26)) + string(rune('a'+i%26))
		beginFor(t, store, ids[i])
	}

	var mu sync.Mutex
	total := 0
	crossings := 0

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result, err := store.ApplyBossDamage(ctx, "battle-1", id, 10)
			if err != nil {
				t.Errorf("damage for %s: %v", id, err)
				return
			}
			mu.Lock()
			total += result.DamageDealt
			if result.KillCrossing {
				crossings++
			}
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	if total != 90 {
		t.Fatalf("expected total damage 90, got %d", total)
	}
	if crossings != 1 {
		t.Fatalf("expected exactly one crossing, got %d", crossings)
	}
	b, err := store.GetBattle(ctx, "battle-1")
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if b.BossCurrentHP != 0 || b.Status != domain.StatusVictory {
		t.Fatalf("expected dead boss, got %+v", b)
	}
}

func TestApplyBossDamageIntegrityCheck(t *testing.T) {
	ctx := context.Background()
	store := NewBattleStore()
	err := store.CreateBattle(ctx, domain.Battle{
		ID:            "battle-1",
		BossMaxHP:     100,
		BossCurrentHP: 150,
		Status:        domain.StatusActive,
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}
	if _, err := store.ApplyBossDamage(ctx, "battle-1", "s1", 10); !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestBeginAttemptGuards(t *testing.T) {
	ctx := context.Background()
	store := storeWithActiveBattle(t, 100)

	if _, _, err := store.BeginAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if _, _, err := store.BeginAttempt(ctx, "battle-1", "s1"); !errors.Is(err, domain.ErrAttemptAlreadyOpen) {
		t.Fatalf("expected open-attempt guard, got %v", err)
	}
	if err := store.EndAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("end attempt: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := store.BeginAttempt(ctx, "battle-1", "s1"); err != nil {
			t.Fatalf("attempt %d: %v", i+2, err)
		}
		if err := store.EndAttempt(ctx, "battle-1", "s1"); err != nil {
			t.Fatalf("end attempt %d: %v", i+2, err)
		}
	}

	if _, _, err := store.BeginAttempt(ctx, "battle-1", "s1"); !errors.Is(err, domain.ErrAttemptQuotaExceeded) {
		t.Fatalf("expected quota guard, got %v", err)
	}

	p, err := store.GetParticipant(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if p.AttemptsUsed != 3 {
		t.Fatalf("expected 3 attempts used, got %d", p.AttemptsUsed)
	}
}

func TestTransitionStatusStampsCompletedAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	store := NewBattleStoreWithClock(func() time.Time { return now })
	err := store.CreateBattle(ctx, domain.Battle{
		ID:     "battle-1",
		Status: domain.StatusActive,
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}

	b, err := store.TransitionStatus(ctx, "battle-1", []domain.BattleStatus{domain.StatusActive}, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if b.CompletedAt == nil || !b.CompletedAt.Equal(now) {
		t.Fatalf("expected completion stamp %v, got %+v", now, b.CompletedAt)
	}

	if _, err := store.TransitionStatus(ctx, "battle-1", []domain.BattleStatus{domain.StatusActive}, domain.StatusCompleted); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestDeleteBattleCascadesParticipants(t *testing.T) {
	ctx := context.Background()
	store := storeWithActiveBattle(t, 100)
	beginFor(t, store, "s1")

	if err := store.DeleteBattle(ctx, "battle-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetBattle(ctx, "battle-1"); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected battle gone, got %v", err)
	}
	if _, err := store.GetParticipant(ctx, "battle-1", "s1"); !errors.Is(err, domain.ErrBattleNotFound) {
		t.Fatalf("expected cascade, got %v", err)
	}
}
