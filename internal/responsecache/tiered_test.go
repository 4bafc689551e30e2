package responsecache

import (
	"context"
	"testing"
	"time"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/infrastructure/redis"
)

func payloadFor(userID, tenantID string) *domain.BootstrapPayload {
	return &domain.BootstrapPayload{
		User:     domain.BootstrapUser{ID: userID},
		Metadata: domain.BootstrapMetadata{TenantID: tenantID},
	}
}

func newTestCache() *TieredCache {
	return New(10, time.Minute, 10, time.Minute, nil, nil)
}

func TestUserKeyIsolation(t *testing.T) {
	tc := newTestCache()
	tc.Put("u1", "t1", payloadFor("u1", "t1"))

	if _, _, ok := tc.Get("u2", "t1"); ok {
		t.Fatalf("u2 must not see u1's cached payload")
	}
	p, _, ok := tc.Get("u1", "t1")
	if !ok || p.User.ID != "u1" {
		t.Fatalf("expected u1 hit, got ok=%v payload=%+v", ok, p)
	}
}

func TestNoTenantKey(t *testing.T) {
	tc := newTestCache()
	tc.Put("u1", "", payloadFor("u1", ""))
	if _, _, ok := tc.Get("u1", ""); !ok {
		t.Fatalf("expected hit for tenantless key")
	}
	if _, _, ok := tc.Get("u1", "t1"); ok {
		t.Fatalf("tenantless entry must not serve tenant-scoped request")
	}
}

func TestTenantSliceRoundTrip(t *testing.T) {
	tc := newTestCache()
	slice := &domain.TenantSlice{Modules: []string{"reservations"}}
	tc.PutTenant(context.Background(), "t1", slice)

	got, ok := tc.GetTenant(context.Background(), "t1")
	if !ok || len(got.Modules) != 1 {
		t.Fatalf("expected tenant slice hit, got ok=%v slice=%+v", ok, got)
	}
	if _, ok := tc.GetTenant(context.Background(), "t2"); ok {
		t.Fatalf("expected miss for other tenant")
	}
}

func TestInvalidateUserScope(t *testing.T) {
	tc := newTestCache()
	tc.Put("u1", "t1", payloadFor("u1", "t1"))
	tc.Put("u2", "t1", payloadFor("u2", "t1"))

	if n := tc.InvalidateUser("u1"); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, _, ok := tc.Get("u1", "t1"); ok {
		t.Fatalf("expected u1 entry removed")
	}
	if _, _, ok := tc.Get("u2", "t1"); !ok {
		t.Fatalf("expected u2 entry untouched")
	}
}

func TestInvalidateUserCoversEveryTenant(t *testing.T) {
	tc := newTestCache()
	tc.Put("u1", "t1", payloadFor("u1", "t1"))
	tc.Put("u1", "t2", payloadFor("u1", "t2"))
	tc.Put("u2", "t1", payloadFor("u2", "t1"))

	if n := tc.InvalidateUser("u1"); n != 2 {
		t.Fatalf("expected both u1 entries removed, got %d", n)
	}
	if _, _, ok := tc.Get("u1", "t2"); ok {
		t.Fatalf("u1's entry under t2 survived")
	}
	if _, _, ok := tc.Get("u2", "t1"); !ok {
		t.Fatalf("expected u2 entry untouched")
	}
}

func TestInvalidateTenantScope(t *testing.T) {
	tc := newTestCache()
	ctx := context.Background()
	tc.Put("u1", "t1", payloadFor("u1", "t1"))
	tc.Put("u2", "t1", payloadFor("u2", "t1"))
	tc.Put("u3", "t2", payloadFor("u3", "t2"))
	tc.PutTenant(ctx, "t1", &domain.TenantSlice{})
	tc.PutTenant(ctx, "t2", &domain.TenantSlice{})

	removed := tc.InvalidateTenant(ctx, "t1")
	if removed != 3 {
		t.Fatalf("expected 3 removed (1 L2 + 2 L1), got %d", removed)
	}
	if _, _, ok := tc.Get("u1", "t1"); ok {
		t.Fatalf("expected t1 L1 entries removed")
	}
	if _, ok := tc.GetTenant(ctx, "t1"); ok {
		t.Fatalf("expected t1 L2 entry removed")
	}
	if _, _, ok := tc.Get("u3", "t2"); !ok {
		t.Fatalf("expected t2 L1 entry untouched")
	}
	if _, ok := tc.GetTenant(ctx, "t2"); !ok {
		t.Fatalf("expected t2 L2 entry untouched")
	}
}

func TestInvalidateAll(t *testing.T) {
	tc := newTestCache()
	ctx := context.Background()
	tc.Put("u1", "t1", payloadFor("u1", "t1"))
	tc.PutTenant(ctx, "t1", &domain.TenantSlice{})

	if n := tc.InvalidateAll(ctx); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	l1, l2 := tc.Stats()
	if l1.Size != 0 || l2.Size != 0 {
		t.Fatalf("expected empty tiers, got l1=%d l2=%d", l1.Size, l2.Size)
	}
}

func TestStats(t *testing.T) {
	tc := New(4, 60*time.Second, 2, 300*time.Second, nil, nil)
	tc.Put("u1", "t1", payloadFor("u1", "t1"))

	l1, l2 := tc.Stats()
	if l1.Size != 1 || l1.Capacity != 4 || l1.TTLSeconds != 60 {
		t.Fatalf("unexpected l1 stats: %+v", l1)
	}
	if l1.Utilization != "25.0%" {
		t.Fatalf("unexpected utilization: %s", l1.Utilization)
	}
	if l2.Capacity != 2 || l2.TTLSeconds != 300 {
		t.Fatalf("unexpected l2 stats: %+v", l2)
	}
}

type fakeRedis struct {
	store map[string][]byte
	fail  bool
}

func (f *fakeRedis) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.store[key] = []byte("set")
	return nil
}

func (f *fakeRedis) GetJSON(_ context.Context, key string, out interface{}) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	if _, ok := f.store[key]; !ok {
		return redis.ErrMiss
	}
	slice := out.(*domain.TenantSlice)
	slice.Modules = []string{"from-redis"}
	return nil
}

func (f *fakeRedis) Delete(_ context.Context, key string) error {
	delete(f.store, key)
	return nil
}

func (f *fakeRedis) DeletePattern(_ context.Context, _ string) (int, error) {
	if f.fail {
		return 0, context.DeadlineExceeded
	}
	n := len(f.store)
	f.store = map[string][]byte{}
	return n, nil
}

func TestRedisBackingFailureIsSwallowed(t *testing.T) {
	rdb := &fakeRedis{store: map[string][]byte{}, fail: true}
	tc := New(10, time.Minute, 10, time.Minute, rdb, nil)
	ctx := context.Background()

	// Neither write nor read may surface the backing failure.
	tc.PutTenant(ctx, "t1", &domain.TenantSlice{Modules: []string{"local"}})
	got, ok := tc.GetTenant(ctx, "t1")
	if !ok || got.Modules[0] != "local" {
		t.Fatalf("expected in-memory hit despite redis failure, got ok=%v %+v", ok, got)
	}
}

func TestInvalidateAllFlushesRedisBacking(t *testing.T) {
	rdb := &fakeRedis{store: map[string][]byte{TenantKey("t1"): []byte("x")}}
	tc := New(10, time.Minute, 10, time.Minute, rdb, nil)
	ctx := context.Background()
	tc.Put("u1", "t1", payloadFor("u1", "t1"))

	tc.InvalidateAll(ctx)
	if len(rdb.store) != 0 {
		t.Fatalf("expected redis backing flushed, %d keys remain", len(rdb.store))
	}
	if _, ok := tc.GetTenant(ctx, "t1"); ok {
		t.Fatalf("expected tenant slice gone after full invalidation")
	}
}

func TestRedisBackingRepopulatesL2(t *testing.T) {
	rdb := &fakeRedis{store: map[string][]byte{TenantKey("t1"): []byte("x")}}
	tc := New(10, time.Minute, 10, time.Minute, rdb, nil)

	got, ok := tc.GetTenant(context.Background(), "t1")
	if !ok || got.Modules[0] != "from-redis" {
		t.Fatalf("expected redis-backed hit, got ok=%v %+v", ok, got)
	}
	// Second read must be served from memory even if redis now fails.
	rdb.fail = true
	if _, ok := tc.GetTenant(context.Background(), "t1"); !ok {
		t.Fatalf("expected repopulated L2 hit")
	}
}
