package responsecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/infrastructure/redis"
	"github.com/propertyflow/backend/internal/observability/metrics"
	"github.com/propertyflow/backend/pkg/cache"
)

const noTenant = "no-tenant"

// RedisBacking is the optional distributed store behind the L2 tier. Nil
// disables it; all Redis failures are logged and dropped, never surfaced
// to the request path.
type RedisBacking interface {
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, out interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// TieredCache serves the aggregated bootstrap payload from two tiers: L1
// holds full payloads keyed by user+tenant with a short TTL, L2 holds the
// tenant-wide slice keyed by tenant alone with a longer TTL. The tiers are
// independent fixed-capacity LRU maps.
type TieredCache struct {
	l1     *cache.Cache
	l2     *cache.Cache
	redis  RedisBacking
	l2TTL  time.Duration
	logger *slog.Logger
}

// TierStats describes one tier for the cache-stats endpoint.
type TierStats struct {
	Size        int    `json:"size"`
	Capacity    int    `json:"capacity"`
	TTLSeconds  int    `json:"ttl_seconds"`
	Utilization string `json:"utilization"`
}

// New creates the tiered cache. rdb may be nil.
func New(l1Capacity int, l1TTL time.Duration, l2Capacity int, l2TTL time.Duration, rdb RedisBacking, logger *slog.Logger) *TieredCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredCache{
		l1:     cache.New(l1Capacity, l1TTL),
		l2:     cache.New(l2Capacity, l2TTL),
		redis:  rdb,
		l2TTL:  l2TTL,
		logger: logger,
	}
}

// UserKey builds the L1 key for a user+tenant pair.
func UserKey(userID, tenantID string) string {
	if tenantID == "" {
		tenantID = noTenant
	}
	return fmt.Sprintf("bootstrap:%s:%s", userID, tenantID)
}

// TenantKey builds the L2 key for a tenant.
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

// Get returns the cached payload for a user+tenant pair plus the entry's
// age. The caller must not mutate the returned payload.
func (tc *TieredCache) Get(userID, tenantID string) (*domain.BootstrapPayload, time.Duration, bool) {
	v, age, ok := tc.l1.GetWithAge(UserKey(userID, tenantID))
	if !ok {
		metrics.ObserveCacheTier("l1", "miss")
		return nil, 0, false
	}
	metrics.ObserveCacheTier("l1", "hit")
	return v.(*domain.BootstrapPayload), age, true
}

// Put stores a payload in L1.
func (tc *TieredCache) Put(userID, tenantID string, payload *domain.BootstrapPayload) {
	tc.l1.Set(UserKey(userID, tenantID), payload)
}

// GetTenant returns the tenant-wide slice, checking the in-memory L2 first
// and the Redis backing second. A Redis hit repopulates L2.
func (tc *TieredCache) GetTenant(ctx context.Context, tenantID string) (*domain.TenantSlice, bool) {
	key := TenantKey(tenantID)
	if v, ok := tc.l2.Get(key); ok {
		metrics.ObserveCacheTier("l2", "hit")
		return v.(*domain.TenantSlice), true
	}
	if tc.redis != nil {
		var slice domain.TenantSlice
		err := tc.redis.GetJSON(ctx, key, &slice)
		if err == nil {
			metrics.ObserveCacheTier("l2", "redis_hit")
			tc.l2.Set(key, &slice)
			return &slice, true
		}
		if !errors.Is(err, redis.ErrMiss) {
			tc.logger.Warn("redis tenant cache read failed",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()),
			)
		}
	}
	metrics.ObserveCacheTier("l2", "miss")
	return nil, false
}

// PutTenant stores the tenant slice in L2 and, best-effort, in Redis.
func (tc *TieredCache) PutTenant(ctx context.Context, tenantID string, slice *domain.TenantSlice) {
	key := TenantKey(tenantID)
	tc.l2.Set(key, slice)
	if tc.redis != nil {
		if err := tc.redis.SetJSON(ctx, key, slice, tc.l2TTL); err != nil {
			tc.logger.Warn("redis tenant cache write dropped",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// InvalidateUser removes the user's L1 entries under every tenant they
// have assembled for. L2 is untouched.
func (tc *TieredCache) InvalidateUser(userID string) int {
	metrics.ObserveCacheInvalidation("user")
	return tc.l1.InvalidatePrefix(fmt.Sprintf("bootstrap:%s:", userID))
}

// InvalidateTenant removes the tenant's L2 entry and every L1 entry whose
// key embeds that tenant.
func (tc *TieredCache) InvalidateTenant(ctx context.Context, tenantID string) int {
	metrics.ObserveCacheInvalidation("tenant")
	removed := 0
	if tc.l2.Delete(TenantKey(tenantID)) {
		removed++
	}
	if tc.redis != nil {
		if err := tc.redis.Delete(ctx, TenantKey(tenantID)); err != nil {
			tc.logger.Warn("redis tenant invalidation dropped",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()),
			)
		}
	}
	suffix := ":" + tenantID
	removed += tc.l1.InvalidateFunc(func(key string) bool {
		return strings.HasSuffix(key, suffix)
	})
	return removed
}

// InvalidateAll clears both tiers and flushes the Redis backing. Callers
// are responsible for restricting this to admins.
func (tc *TieredCache) InvalidateAll(ctx context.Context) int {
	metrics.ObserveCacheInvalidation("all")
	if tc.redis != nil {
		if _, err := tc.redis.DeletePattern(ctx, "tenant:*"); err != nil {
			tc.logger.Warn("redis flush dropped", slog.String("error", err.Error()))
		}
	}
	return tc.l1.Clear() + tc.l2.Clear()
}

// SweepExpired drops expired entries from both tiers.
func (tc *TieredCache) SweepExpired() int {
	return tc.l1.SweepExpired() + tc.l2.SweepExpired()
}

// Stats reports both tiers for the privileged cache-stats endpoint.
func (tc *TieredCache) Stats() (TierStats, TierStats) {
	return tierStats(tc.l1), tierStats(tc.l2)
}

func tierStats(c *cache.Cache) TierStats {
	utilization := 0.0
	if c.Capacity() > 0 {
		utilization = float64(c.Len()) / float64(c.Capacity()) * 100
	}
	return TierStats{
		Size:        c.Len(),
		Capacity:    c.Capacity(),
		TTLSeconds:  int(c.TTL().Seconds()),
		Utilization: fmt.Sprintf("%.1f%%", utilization),
	}
}
