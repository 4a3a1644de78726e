package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores generated recommendation sets for reuse inside the expiry
// horizon.
type Cache interface {
	// Get returns the cached set, or (nil, nil) on a miss.
	Get(ctx context.Context, learnerID, appCode string) ([]Recommendation, error)
	Put(ctx context.Context, learnerID, appCode string, recs []Recommendation, ttl time.Duration) error
	Invalidate(ctx context.Context, learnerID, appCode string) error
}

// RecommendationCache keeps generated recommendation sets in Redis for the
// expiry horizon. A cache miss means the caller must regenerate; expired
// sets are never served.
type RecommendationCache struct {
	client *redis.Client
}

// NewRecommendationCache wraps a Redis client.
func NewRecommendationCache(client *redis.Client) *RecommendationCache {
	return &RecommendationCache{client: client}
}

func cacheKey(learnerID, appCode string) string {
	return "recommendations:" + learnerID + ":" + appCode
}

// Get returns the cached set, or (nil, nil) on a miss.
func (c *RecommendationCache) Get(ctx context.Context, learnerID, appCode string) ([]Recommendation, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, cacheKey(learnerID, appCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var recs []Recommendation
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode cached recommendations: %w", err)
	}
	return recs, nil
}

// Put stores the set with a TTL matching the expiry horizon.
func (c *RecommendationCache) Put(ctx context.Context, learnerID, appCode string, recs []Recommendation, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode recommendations: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(learnerID, appCode), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the learner's cached set, typically after a completion
// event changes the candidate pool.
func (c *RecommendationCache) Invalidate(ctx context.Context, learnerID, appCode string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, cacheKey(learnerID, appCode)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}
