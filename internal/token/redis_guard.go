package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// guardKeyPrefix namespaces replay entries so the guard can share a Redis
// database with other consumers.
const guardKeyPrefix = "streamgate:nonce:"

// RedisGuard is a ReplayGuard backed by Redis, for deployments where
// several gateway instances validate against the same token population.
// SET NX gives the atomic check-and-insert; key TTLs give the eviction.
type RedisGuard struct {
	client *redis.Client
}

// NewRedisGuard connects to Redis at addr and verifies the connection.
func NewRedisGuard(ctx context.Context, addr string) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &RedisGuard{client: client}, nil
}

// NewRedisGuardWithClient wraps an existing client. Useful for tests.
func NewRedisGuardWithClient(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// Remember implements ReplayGuard.Remember.
func (g *RedisGuard) Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	first, err := g.client.SetNX(ctx, guardKeyPrefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return first, nil
}

// Len implements ReplayGuard.Len. It counts guard keys with a bounded scan;
// an error is reported as zero since the count only feeds a gauge.
func (g *RedisGuard) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var n int
	iter := g.client.Scan(ctx, 0, guardKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0
	}
	return n
}

// Close releases the underlying client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
