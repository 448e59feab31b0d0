// Package redis provides a Redis/Valkey-backed persistence layer for the
// cost tracker's daily counters and the router's model statistics cache,
// exercising atomic INCRBYFLOAT/HINCRBY so concurrent
// calls never double-count.
//
// Grounded on evalgo-org-eve's db/repository.RedisRepository (URL-based
// client construction, ping-on-connect) and r3e-network-service_layer's
// infrastructure/ratelimit for the atomic-counter idiom.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// CostStore persists daily USD spend in Redis so multiple processes sharing
// one runtime host observe a single cap.
type CostStore struct {
	client *redis.Client
	prefix string
}

// NewCostStore connects to url (a redis:// connection string) and returns a
// CostStore keying entries under prefix.
func NewCostStore(url, prefix string) (*CostStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, demerr.Wrap(demerr.InvalidInput, "redis.NewCostStore", "parse redis url", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, demerr.Wrap(demerr.Network, "redis.NewCostStore", "connect to redis", err)
	}
	return &CostStore{client: client, prefix: prefix}, nil
}

func (s *CostStore) key(day string) string {
	return fmt.Sprintf("%s:cost:%s", s.prefix, day)
}

// AddSpend atomically adds deltaUSD to the running total for day and
// returns the new total, using INCRBYFLOAT so concurrent callers never
// clobber each other's update.
func (s *CostStore) AddSpend(ctx context.Context, day string, deltaUSD float64) (float64, error) {
	total, err := s.client.IncrByFloat(ctx, s.key(day), deltaUSD).Result()
	if err != nil {
		return 0, demerr.Wrap(demerr.Storage, "redis.CostStore.AddSpend", "incrbyfloat", err)
	}
	// Daily keys expire on their own after two days so the keyspace does not
	// grow unbounded; expiry failures are not fatal to the increment itself.
	_ = s.client.Expire(ctx, s.key(day), 48*time.Hour).Err()
	return total, nil
}

// SpentToday returns the current running total for day, 0 if unset.
func (s *CostStore) SpentToday(ctx context.Context, day string) (float64, error) {
	v, err := s.client.Get(ctx, s.key(day)).Float64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, demerr.Wrap(demerr.Storage, "redis.CostStore.SpentToday", "get", err)
	}
	return v, nil
}

// Close closes the underlying connection pool.
func (s *CostStore) Close() error {
	if err := s.client.Close(); err != nil {
		return demerr.Wrap(demerr.Storage, "redis.CostStore.Close", "close client", err)
	}
	return nil
}
