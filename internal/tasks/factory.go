package tasks

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// NewStore picks the backend matching the connected driver: postgres when a
// pool is given, redis when a client is given, otherwise in-memory.
func NewStore(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client, redisPrefix string) (Store, error) {
	switch {
	case pool != nil:
		return NewPostgresStore(ctx, pool)
	case rdb != nil:
		return NewRedisStore(rdb, redisPrefix), nil
	default:
		return NewMemoryStore(), nil
	}
}
