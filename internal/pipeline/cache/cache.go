package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crestapps/tabflow/internal/pipeline/config"
	"github.com/crestapps/tabflow/internal/pipeline/core"
)

const batchKeyPrefix = "batch:"

// promptDigestLen truncates the prompt hash in cache keys; 16 hex chars keep
// keys short while collisions stay negligible at cache scale.
const promptDigestLen = 16

// ByteCache is the raw storage surface behind the batch result cache
type ByteCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// ErrNotFound is returned by ByteCache.Get when the key does not exist
var ErrNotFound = errors.New("cache: key not found")

// RedisByteCache stores entries in Redis with a per-key TTL
type RedisByteCache struct {
	client *redis.Client
}

// NewRedisClient builds a client from configuration. The caller owns Close.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
		ReadTimeout: cfg.Timeout,
	})
}

func NewRedisByteCache(client *redis.Client) *RedisByteCache {
	return &RedisByteCache{client: client}
}

func (c *RedisByteCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

func (c *RedisByteCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisByteCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisByteCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

// cacheEntry is the stored JSON envelope
type cacheEntry struct {
	Results   []core.TabularBatchResult `json:"results"`
	CreatedAt time.Time                 `json:"created_at"`
}

// BatchResultCache stores merged-batch runs keyed by interaction, document
// content and prompt. It is strictly best-effort: every storage error is
// logged and reported as a miss (or dropped on write) so cache trouble never
// fails a run.
type BatchResultCache struct {
	store    ByteCache
	absolute time.Duration
	sliding  time.Duration
	logger   *log.Logger
}

// NewBatchResultCache wraps a ByteCache with the batch result contract.
// Sliding expiration is approximated by refreshing the TTL on every hit;
// absolute expiration bounds the initial TTL.
func NewBatchResultCache(store ByteCache, cfg config.CacheConfig, logger *log.Logger) *BatchResultCache {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &BatchResultCache{
		store:    store,
		absolute: cfg.AbsoluteExpiration,
		sliding:  cfg.SlidingExpiration,
		logger:   logger,
	}
}

// DeriveKey builds the cache key from the interaction, the combined document
// content hash and a truncated digest of the prompt. Same inputs always derive
// the same key; any change to a document or the prompt derives a new one.
func (c *BatchResultCache) DeriveKey(interactionID string, documents []core.Document, prompt string) string {
	promptSum := sha256.Sum256([]byte(prompt))
	digest := hex.EncodeToString(promptSum[:])[:promptDigestLen]
	return batchKeyPrefix + interactionID + ":" + DocumentContentHash(documents) + ":" + digest
}

func (c *BatchResultCache) Get(ctx context.Context, key string) ([]core.TabularBatchResult, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Printf("cache get %q failed: %v", key, err)
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Printf("cache entry %q is corrupt, dropping: %v", key, err)
		_ = c.store.Del(ctx, key)
		return nil, false
	}

	// the absolute window caps the entry's total lifetime no matter how often
	// it is touched
	if c.absolute > 0 {
		age := time.Since(entry.CreatedAt)
		if age >= c.absolute {
			_ = c.store.Del(ctx, key)
			return nil, false
		}
		// best-effort sliding refresh, clamped so it cannot outlive the cap
		if c.sliding > 0 {
			ttl := c.sliding
			if remaining := c.absolute - age; remaining < ttl {
				ttl = remaining
			}
			if err := c.store.Expire(ctx, key, ttl); err != nil {
				c.logger.Printf("cache refresh %q failed: %v", key, err)
			}
		}
		return entry.Results, true
	}

	if c.sliding > 0 {
		if err := c.store.Expire(ctx, key, c.sliding); err != nil {
			c.logger.Printf("cache refresh %q failed: %v", key, err)
		}
	}
	return entry.Results, true
}

func (c *BatchResultCache) Set(ctx context.Context, key string, results []core.TabularBatchResult) {
	data, err := json.Marshal(cacheEntry{Results: results, CreatedAt: time.Now()})
	if err != nil {
		c.logger.Printf("cache marshal for %q failed: %v", key, err)
		return
	}
	ttl := c.absolute
	if c.sliding > 0 && (ttl <= 0 || c.sliding < ttl) {
		ttl = c.sliding
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Printf("cache set %q failed: %v", key, err)
	}
}

func (c *BatchResultCache) Remove(ctx context.Context, key string) {
	if err := c.store.Del(ctx, key); err != nil {
		c.logger.Printf("cache remove %q failed: %v", key, err)
	}
}

// InvalidateInteraction is a best-effort no-op: keys embed content and prompt
// digests that cannot be enumerated without a scan, so stale entries are left
// to TTL expiry.
func (c *BatchResultCache) InvalidateInteraction(ctx context.Context, interactionID string) error {
	c.logger.Printf("invalidate interaction %s: relying on TTL expiry", interactionID)
	return nil
}

// DocumentContentHash hashes all document names and contents into one digest.
// The hash is order-independent: documents are sorted by file name before
// hashing, so reordering attachments does not change the key.
func DocumentContentHash(documents []core.Document) string {
	sorted := make([]core.Document, len(documents))
	copy(sorted, documents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FileName < sorted[j].FileName })

	h := sha256.New()
	for _, d := range sorted {
		h.Write([]byte(d.FileName))
		h.Write([]byte(":"))
		h.Write([]byte(d.Content))
		h.Write([]byte("|"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
