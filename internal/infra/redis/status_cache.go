package redis

import (
	"context"
	"encoding/json"
	"time"

	"boss-battle-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// StatusCache serves GetBattleStatus polling from Redis with a short TTL.
// The read path tolerates staleness; writers refresh or invalidate the key
// after every committed mutation.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

func (c *StatusCache) Get(ctx context.Context, battleID string) (domain.BattleStatusView, bool) {
	raw, err := c.client.Get(ctx, statusKey(battleID)).Bytes()
	if err != nil || len(raw) == 0 {
		return domain.BattleStatusView{}, false
	}
	var view domain.BattleStatusView
	if err := json.Unmarshal(raw, &view); err != nil {
		return domain.BattleStatusView{}, false
	}
	return view, true
}

func (c *StatusCache) Put(ctx context.Context, view domain.BattleStatusView) {
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, statusKey(view.BattleID), data, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, battleID string) {
	_ = c.client.Del(ctx, statusKey(battleID)).Err()
}

func statusKey(battleID string) string {
	return "battle:status:" + battleID
}
