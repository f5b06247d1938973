// Package infra provides the concrete infrastructure adapters for the
// gateway: the go-redis client behind cache.RedisClient and the paho
// MQTT client behind the gateway's broker seams. Code in cmd/gateway
// creates the adapters and injects them; the consuming packages only
// see narrow interfaces.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter wraps go-redis v9 to implement the minimal command
// surface expected by cache.Store.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to Redis at addr and verifies connectivity
// with a bounded ping. The gateway treats a failed ping at startup as
// fatal.
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// Ping verifies connectivity, for health checks.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

// Get returns (nil, nil) on a cache miss.
func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.rdb.Del(ctx, keys...).Err()
}

func (a *GoRedisAdapter) LPush(ctx context.Context, key string, value []byte) error {
	return a.rdb.LPush(ctx, key, value).Err()
}

// LRangeDel reads the full list and deletes it inside one MULTI/EXEC
// pipeline, so values pushed concurrently land in a fresh list instead
// of being lost.
func (a *GoRedisAdapter) LRangeDel(ctx context.Context, key string) ([][]byte, error) {
	pipe := a.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	items := rangeCmd.Val()
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

func (a *GoRedisAdapter) ZAdd(ctx context.Context, key, member string, score float64) error {
	return a.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// popByScoreScript returns and removes every member with score <= max
// in a single server-side step, so two scheduler instances can never
// dispatch the same task twice.
var popByScoreScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #due > 0 then
	redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

func (a *GoRedisAdapter) ZPopByScore(ctx context.Context, key string, max float64) ([]string, error) {
	return popByScoreScript.Run(ctx, a.rdb, []string{key}, max).StringSlice()
}
