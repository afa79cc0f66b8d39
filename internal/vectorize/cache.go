package vectorize

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// VectorCache memoizes token-stream vectors in Redis with a TTL. A cache
// failure is never fatal: callers fall back to computing the vector.
type VectorCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewVectorCache(addr, password string, db int, ttl time.Duration) (*VectorCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Vector cache connected to Redis: %s", addr)

	return &VectorCache{rdb: rdb, ttl: ttl}, nil
}

func cacheKey(tokens []string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(tokens, " ")))
	return fmt.Sprintf("vector:%x", h.Sum64())
}

// Get returns the cached vector for a token stream, or nil on miss.
func (c *VectorCache) Get(ctx context.Context, tokens []string) []float64 {
	data, err := c.rdb.Get(ctx, cacheKey(tokens)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Vector cache read failed: %v", err)
		}
		return nil
	}

	var vec []float64
	if err := json.Unmarshal([]byte(data), &vec); err != nil {
		log.Printf("Vector cache entry corrupt, dropping: %v", err)
		c.rdb.Del(ctx, cacheKey(tokens))
		return nil
	}
	return vec
}

// Put stores a vector under the token-stream key.
func (c *VectorCache) Put(ctx context.Context, tokens []string, vec []float64) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(tokens), data, c.ttl).Err(); err != nil {
		log.Printf("Vector cache write failed: %v", err)
	}
}

func (c *VectorCache) Close() error {
	return c.rdb.Close()
}
