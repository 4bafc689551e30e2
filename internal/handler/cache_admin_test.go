package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/responsecache"
	"github.com/propertyflow/backend/internal/security/audit"
	"github.com/propertyflow/backend/internal/security/middleware"
	"github.com/propertyflow/backend/internal/service"
)

func newCacheAdminFixture() (*CacheAdminHandler, *responsecache.TieredCache) {
	cache := responsecache.New(10, time.Minute, 10, time.Minute, nil, nil)
	authSvc := service.NewAuthService(nil, nil, nil, nil, nil, nil, nil, service.AuthServiceOptions{}, nil)
	return NewCacheAdminHandler(authSvc, cache, audit.NewLogger(nil), nil), cache
}

func invalidateRequest(identity *domain.Identity, query string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/invalidate-cache"+query, nil)
	return req.WithContext(middleware.WithIdentity(req.Context(), identity))
}

func TestInvalidateOwnTenantWithoutAdmin(t *testing.T) {
	h, cache := newCacheAdminFixture()
	ctx := context.Background()
	cache.PutTenant(ctx, "t1", &domain.TenantSlice{Modules: []string{"reservations"}})

	rr := httptest.NewRecorder()
	h.Invalidate(rr, invalidateRequest(&domain.Identity{ID: "u1", TenantID: "t1"}, "?scope=tenant"))

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp InvalidateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Scope != "tenant" || resp.Removed != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := cache.GetTenant(ctx, "t1"); ok {
		t.Fatalf("expected tenant slice removed")
	}
}

func TestInvalidateOtherTenantNeedsAdmin(t *testing.T) {
	h, cache := newCacheAdminFixture()
	ctx := context.Background()
	cache.PutTenant(ctx, "t2", &domain.TenantSlice{})

	rr := httptest.NewRecorder()
	h.Invalidate(rr, invalidateRequest(&domain.Identity{ID: "u1", TenantID: "t1"}, "?scope=tenant&tenant_id=t2"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", rr.Code)
	}
	if _, ok := cache.GetTenant(ctx, "t2"); !ok {
		t.Fatalf("denied request must not touch the cache")
	}

	rr = httptest.NewRecorder()
	h.Invalidate(rr, invalidateRequest(&domain.Identity{ID: "a1", TenantID: "t1", IsAdmin: true}, "?scope=tenant&tenant_id=t2"))
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 for admin: %s", rr.Code, rr.Body.String())
	}
	if _, ok := cache.GetTenant(ctx, "t2"); ok {
		t.Fatalf("expected t2 slice removed by admin")
	}
}

func TestInvalidateAllStaysAdminOnly(t *testing.T) {
	h, _ := newCacheAdminFixture()

	rr := httptest.NewRecorder()
	h.Invalidate(rr, invalidateRequest(&domain.Identity{ID: "u1", TenantID: "t1"}, "?scope=all"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", rr.Code)
	}
}

func TestInvalidateUserClearsEveryTenantEntry(t *testing.T) {
	h, cache := newCacheAdminFixture()
	cache.Put("u1", "t1", &domain.BootstrapPayload{})
	cache.Put("u1", "t2", &domain.BootstrapPayload{})

	rr := httptest.NewRecorder()
	h.Invalidate(rr, invalidateRequest(&domain.Identity{ID: "u1", TenantID: "t1"}, "?scope=user"))
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp InvalidateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Removed != 2 {
		t.Fatalf("removed = %d, want both tenants' entries", resp.Removed)
	}
}
