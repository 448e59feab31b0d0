package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// ModelStatsCache persists the router's per-(routing_key, model_id) Beta
// posterior as a Redis hash, using HINCRBYFLOAT so concurrent reward
// updates from sibling agents accumulate correctly instead of racing a
// read-modify-write round trip.
type ModelStatsCache struct {
	client *redis.Client
	prefix string
}

// NewModelStatsCache wraps an existing *redis.Client (often shared with
// CostStore) under the given key prefix.
func NewModelStatsCache(client *redis.Client, prefix string) *ModelStatsCache {
	return &ModelStatsCache{client: client, prefix: prefix}
}

func (c *ModelStatsCache) key(routingKey, modelID string) string {
	return fmt.Sprintf("%s:modelstats:%s:%s", c.prefix, routingKey, modelID)
}

// Fields mirrors the subset of router.ModelStats kept per entry. Load reads
// mean_cost_usd and mean_latency_ms when present; IncrReward does not write
// them.
type Fields struct {
	Alpha          float64
	Beta           float64
	Uses           int64
	Successes      int64
	Failures       int64
	MeanCostUSD    float64
	MeanLatencyMS  float64
}

// IncrReward applies one reward update atomically: alpha += reward,
// beta += (1-reward), uses += 1, and successes/failures += 1 per outcome.
func (c *ModelStatsCache) IncrReward(ctx context.Context, routingKey, modelID string, reward float64, success bool) error {
	key := c.key(routingKey, modelID)
	pipe := c.client.TxPipeline()
	pipe.HIncrByFloat(ctx, key, "alpha", reward)
	pipe.HIncrByFloat(ctx, key, "beta", 1-reward)
	pipe.HIncrBy(ctx, key, "uses", 1)
	if success {
		pipe.HIncrBy(ctx, key, "successes", 1)
	} else {
		pipe.HIncrBy(ctx, key, "failures", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return demerr.Wrap(demerr.Storage, "redis.ModelStatsCache.IncrReward", "pipeline exec", err)
	}
	return nil
}

// Load fetches the current fields for (routingKey, modelID); ok is false if
// no entry exists yet (caller applies the informed prior instead).
func (c *ModelStatsCache) Load(ctx context.Context, routingKey, modelID string) (Fields, bool, error) {
	res, err := c.client.HGetAll(ctx, c.key(routingKey, modelID)).Result()
	if err != nil {
		return Fields{}, false, demerr.Wrap(demerr.Storage, "redis.ModelStatsCache.Load", "hgetall", err)
	}
	if len(res) == 0 {
		return Fields{}, false, nil
	}
	var f Fields
	f.Alpha = parseFloat(res["alpha"])
	f.Beta = parseFloat(res["beta"])
	f.Uses, _ = strconv.ParseInt(res["uses"], 10, 64)
	f.Successes, _ = strconv.ParseInt(res["successes"], 10, 64)
	f.Failures, _ = strconv.ParseInt(res["failures"], 10, 64)
	f.MeanCostUSD = parseFloat(res["mean_cost_usd"])
	f.MeanLatencyMS = parseFloat(res["mean_latency_ms"])
	return f, true, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
