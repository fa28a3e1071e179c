package slots

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"dialer-platform/pkg/utils"
)

// RedisSlots enforces the tenant dial cap through the atomic Lua
// acquire/release counter. The TTL is a crash backstop only: the normal
// lifecycle releases every slot explicitly, so it should comfortably exceed
// the sweeper's stale threshold.
type RedisSlots struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisSlots(rdb *redis.Client, limit int, ttl time.Duration) *RedisSlots {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSlots{rdb: rdb, limit: limit, ttl: ttl}
}

func (s *RedisSlots) Acquire(ctx context.Context, tenantID string) (bool, error) {
	return utils.AcquireDialSlot(ctx, s.rdb, utils.TenantDialCapKey(tenantID), s.limit, s.ttl)
}

func (s *RedisSlots) Release(ctx context.Context, tenantID string, n int) error {
	return utils.ReleaseDialSlots(ctx, s.rdb, utils.TenantDialCapKey(tenantID), n)
}
