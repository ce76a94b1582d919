package app

import (
	"context"
	"log"
	"sort"
	"sync"

	"boss-battle-service/internal/domain"
)

// statusFeed fans battle snapshots out to spectator subscriptions, keyed by
// battle id.
type statusFeed struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.BattleStatusView]struct{}
}

func newStatusFeed() *statusFeed {
	return &statusFeed{subs: make(map[string]map[chan domain.BattleStatusView]struct{})}
}

func (f *statusFeed) subscribe(battleID string) (chan domain.BattleStatusView, func()) {
	ch := make(chan domain.BattleStatusView, 8)

	f.mu.Lock()
	if f.subs[battleID] == nil {
		f.subs[battleID] = make(map[chan domain.BattleStatusView]struct{})
	}
	f.subs[battleID][ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if set, ok := f.subs[battleID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(f.subs, battleID)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *statusFeed) publish(view domain.BattleStatusView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[view.BattleID] {
		select {
		case ch <- view:
		default:
			// Drop the stale snapshot so a slow spectator never blocks play.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

// GetBattleStatus returns the polling snapshot: boss HP, lifecycle status,
// and which classmates are currently battling. The read path tolerates
// slightly-stale values, so a cache hit is served as-is.
func (s *BattleService) GetBattleStatus(ctx context.Context, battleID string) (domain.BattleStatusView, error) {
	if s.cache != nil {
		if view, ok := s.cache.Get(ctx, battleID); ok {
			return view, nil
		}
	}
	view, err := s.buildStatus(ctx, battleID)
	if err != nil {
		return domain.BattleStatusView{}, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, view)
	}
	return view, nil
}

// SubscribeStatus returns a channel of live snapshots for spectating. The
// caller must invoke the returned cancel function to avoid leaks.
func (s *BattleService) SubscribeStatus(ctx context.Context, battleID string) (<-chan domain.BattleStatusView, func(), error) {
	initial, err := s.buildStatus(ctx, battleID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.feed.subscribe(battleID)
	ch <- initial
	return ch, cancel, nil
}

// GetAvailableBattlesForStudent lists the classroom's ACTIVE battles the
// student can still attempt.
func (s *BattleService) GetAvailableBattlesForStudent(ctx context.Context, classroomID, studentID string) ([]domain.Battle, error) {
	battles, err := s.battles.ListBattlesByClassroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	available := make([]domain.Battle, 0, len(battles))
	for _, b := range battles {
		if b.Status == domain.StatusScheduled || b.Status == domain.StatusActive {
			if b, err = s.EvaluateExpiry(ctx, b.ID); err != nil {
				return nil, err
			}
		}
		if b.Status != domain.StatusActive {
			continue
		}
		p, err := s.battles.GetParticipant(ctx, b.ID, studentID)
		switch {
		case err == nil && p.AttemptsUsed >= b.MaxAttempts:
			continue
		case err != nil && err != domain.ErrParticipantNotFound:
			return nil, err
		}
		available = append(available, b)
	}
	return available, nil
}

func (s *BattleService) buildStatus(ctx context.Context, battleID string) (domain.BattleStatusView, error) {
	b, err := s.EvaluateExpiry(ctx, battleID)
	if err != nil {
		return domain.BattleStatusView{}, err
	}
	participants, err := s.battles.ListParticipants(ctx, battleID)
	if err != nil {
		return domain.BattleStatusView{}, err
	}

	battling := make([]domain.BattlingStudent, 0, len(participants))
	for _, p := range participants {
		if p.IsCurrentlyBattling {
			battling = append(battling, domain.BattlingStudent{
				StudentID:        p.StudentID,
				TotalDamageDealt: p.TotalDamageDealt,
			})
		}
	}
	sort.Slice(battling, func(i, j int) bool {
		if battling[i].TotalDamageDealt != battling[j].TotalDamageDealt {
			return battling[i].TotalDamageDealt > battling[j].TotalDamageDealt
		}
		return battling[i].StudentID < battling[j].StudentID
	})

	return domain.BattleStatusView{
		BattleID:      b.ID,
		BossName:      b.BossName,
		BossMaxHP:     b.BossMaxHP,
		BossCurrentHP: b.BossCurrentHP,
		Status:        b.Status,
		Battling:      battling,
		UpdatedAt:     s.now(),
	}, nil
}

// publishStatus refreshes the cache and the live feed after a write. Best
// effort: spectators read eventually-consistent state anyway.
func (s *BattleService) publishStatus(ctx context.Context, battleID string) {
	view, err := s.buildStatus(ctx, battleID)
	if err != nil {
		log.Printf("publish status for battle %s: %v", battleID, err)
		return
	}
	if s.cache != nil {
		s.cache.Put(ctx, view)
	}
	s.feed.publish(view)
}
