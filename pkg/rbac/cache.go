package rbac

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/portal/pkg/observability"
)

const roleCacheKeyPrefix = "portal:role:"

// CacheConfig configures the role cache
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// RoleCache is a two-tier cache of resolved role records keyed by the exact
// email they were resolved for. L1 is an in-process expirable LRU; L2 is an
// optional Redis shared between replicas. Only successful resolutions are
// stored, and both tiers expire after TTL.
type RoleCache struct {
	l1      *lru.LRU[string, *RoleRecord]
	l2      *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRoleCache creates a cache. redisClient may be nil for L1 only.
func NewRoleCache(cfg CacheConfig, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *RoleCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &RoleCache{
		l1:      lru.NewLRU[string, *RoleRecord](cfg.MaxEntries, nil, cfg.TTL),
		l2:      redisClient,
		ttl:     cfg.TTL,
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns a copy of the cached record for email
func (c *RoleCache) Get(ctx context.Context, email string) (*RoleRecord, bool) {
	if record, ok := c.l1.Get(email); ok {
		c.metrics.ObserveCache("l1", true)
		return record.Clone(), true
	}
	c.metrics.ObserveCache("l1", false)

	if c.l2 == nil {
		return nil, false
	}

	key := roleCacheKeyPrefix + email
	data, err := c.l2.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.metrics.ObserveCache("l2", false)
		return nil, false
	} else if err != nil {
		c.logger.WithError(err).Warn("Role cache read failed")
		c.metrics.ObserveCache("l2", false)
		return nil, false
	}

	var record RoleRecord
	if err := json.Unmarshal(data, &record); err != nil {
		c.l2.Del(ctx, key)
		c.metrics.ObserveCache("l2", false)
		return nil, false
	}
	if record.Permissions == nil {
		record.Permissions = PermissionSet{}
	}

	c.metrics.ObserveCache("l2", true)
	c.l1.Add(email, record.Clone())
	return &record, true
}

// Set stores a copy of record under email
func (c *RoleCache) Set(ctx context.Context, email string, record *RoleRecord) {
	if record == nil {
		return
	}
	c.l1.Add(email, record.Clone())

	if c.l2 == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.l2.Set(ctx, roleCacheKeyPrefix+email, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Role cache write failed")
	}
}

// Invalidate drops email from both tiers
func (c *RoleCache) Invalidate(ctx context.Context, email string) error {
	c.l1.Remove(email)
	if c.l2 == nil {
		return nil
	}
	return c.l2.Del(ctx, roleCacheKeyPrefix+email).Err()
}

// Len returns the number of L1 entries
func (c *RoleCache) Len() int {
	return c.l1.Len()
}
