package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"boss-battle-service/internal/domain"
)

func TestStartAttemptQuota(t *testing.T) {
	ctx := context.Background()
	battle := testBattle(100, 10)
	battle.MaxAttempts = 1
	e := newTestEngine(t, battle, testBank())

	// A classmate keeps the battle from going to DEFEAT when s1 runs dry.
	if _, err := e.service.StartAttempt(ctx, "battle-1", "s2"); err != nil {
		t.Fatalf("classmate attempt: %v", err)
	}

	if _, err := e.service.StartAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if err := e.service.FinishAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := e.service.StartAttempt(ctx, "battle-1", "s1"); !errors.Is(err, domain.ErrAttemptQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
}

func TestStartAttemptTwoTabs(t *testing.T) {
	// Two back-to-back startAttempt calls from the same student (two browser
	// tabs): exactly one wins.
	ctx := context.Background()
	battle := testBattle(100, 10)
	battle.MaxAttempts = 1
	e := newTestEngine(t, battle, testBank())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.service.StartAttempt(ctx, "battle-1", "s1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrAttemptAlreadyOpen), errors.Is(err, domain.ErrAttemptQuotaExceeded):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one attempt to open, got %d", succeeded)
	}

	p, err := e.battles.GetParticipant(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if p.AttemptsUsed != 1 {
		t.Fatalf("expected attemptsUsed=1, got %d", p.AttemptsUsed)
	}
}

func TestConcurrentStartAttemptsNeverExceedQuota(t *testing.T) {
	ctx := context.Background()
	battle := testBattle(10000, 1)
	battle.MaxAttempts = 3
	e := newTestEngine(t, battle, testBank())

	const calls = 32
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.service.StartAttempt(ctx, "battle-1", "s1"); err == nil {
				_ = e.service.FinishAttempt(ctx, "battle-1", "s1")
			}
		}()
	}
	wg.Wait()

	p, err := e.battles.GetParticipant(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if p.AttemptsUsed > battle.MaxAttempts {
		t.Fatalf("attemptsUsed %d exceeds maxAttempts %d", p.AttemptsUsed, battle.MaxAttempts)
	}
}

func TestFinishAttemptIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testBattle(100, 10), testBank())

	if _, err := e.service.StartAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.service.FinishAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("first finish: %v", err)
	}
	first, err := e.battles.GetParticipant(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}

	if err := e.service.FinishAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	second, err := e.battles.GetParticipant(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if first != second {
		t.Fatalf("finish is not idempotent: %+v vs %+v", first, second)
	}
}

func TestStartAttemptSmallBankWarns(t *testing.T) {
	ctx := context.Background()
	battle := testBattle(100, 10)
	battle.QuestionsPerAttempt = 5 // bank only has one question
	e := newTestEngine(t, battle, testBank())

	view, err := e.service.StartAttempt(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(view.Questions) != 5 {
		t.Fatalf("expected 5 drawn questions, got %d", len(view.Questions))
	}
	if view.Warning == "" {
		t.Fatalf("expected insufficient-questions warning")
	}

	// Every drawn copy of the repeated question is answerable once.
	for i := 0; i < 5; i++ {
		outcome, err := e.service.AnswerQuestion(ctx, "battle-1", "s1", "q1", "o2")
		if err != nil {
			t.Fatalf("answer copy %d: %v", i+1, err)
		}
		if outcome.QuestionsLeft != 4-i {
			t.Fatalf("expected %d questions left after copy %d, got %d", 4-i, i+1, outcome.QuestionsLeft)
		}
	}
	if _, err := e.service.AnswerQuestion(ctx, "battle-1", "s1", "q1", "o2"); !errors.Is(err, domain.ErrQuestionAlreadyAnswered) {
		t.Fatalf("expected already answered after all copies spent, got %v", err)
	}
}

func TestStartAttemptStripsAnswers(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testBattle(100, 10), testBank())

	view, err := e.service.StartAttempt(ctx, "battle-1", "s1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(view.Questions) != 1 {
		t.Fatalf("expected one question, got %d", len(view.Questions))
	}
	if view.BossHP != 100 {
		t.Fatalf("expected hp snapshot 100, got %d", view.BossHP)
	}
	for _, opt := range view.Questions[0].Options {
		if opt.ID == "" || opt.Text == "" {
			t.Fatalf("option view incomplete: %+v", opt)
		}
	}
}

func TestAnswerUnknownQuestion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testBattle(100, 10), testBank())

	if _, err := e.service.AnswerQuestion(ctx, "battle-1", "s1", "q1", "o2"); !errors.Is(err, domain.ErrNoOpenAttempt) {
		t.Fatalf("expected no open attempt, got %v", err)
	}

	if _, err := e.service.StartAttempt(ctx, "battle-1", "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.service.AnswerQuestion(ctx, "battle-1", "s1", "q-unknown", "o2"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}

	if _, err := e.service.AnswerQuestion(ctx, "battle-1", "s1", "q1", "o2"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := e.service.AnswerQuestion(ctx, "battle-1", "s1", "q1", "o2"); !errors.Is(err, domain.ErrQuestionAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}
}
