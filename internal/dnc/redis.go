package dnc

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores each tenant's do-not-call list as a Redis set.
// Membership checks are O(1) and shared by every engine process.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func dncKey(tenantID string) string { return "dnc:tenant:" + tenantID }

func (r *RedisRegistry) IsListed(ctx context.Context, tenantID, phoneNumber string) (bool, error) {
	if r.rdb == nil {
		return false, errors.New("dnc: redis client is nil")
	}
	if tenantID == "" || phoneNumber == "" {
		return false, errors.New("dnc: tenant and phone number required")
	}
	return r.rdb.SIsMember(ctx, dncKey(tenantID), phoneNumber).Result()
}

func (r *RedisRegistry) Add(ctx context.Context, tenantID, phoneNumber string) error {
	if r.rdb == nil {
		return errors.New("dnc: redis client is nil")
	}
	if tenantID == "" || phoneNumber == "" {
		return errors.New("dnc: tenant and phone number required")
	}
	return r.rdb.SAdd(ctx, dncKey(tenantID), phoneNumber).Err()
}
