package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/reliability/accessgate"
	"github.com/propertyflow/backend/internal/responsecache"
	"github.com/propertyflow/backend/internal/security"
)

type fakeTenants struct {
	info        *domain.Tenant
	settings    *domain.CompanySettings
	modules     []string
	infoErr     error
	settingsErr error
	modulesErr  error
}

func (f *fakeTenants) GetInfo(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return f.info, f.infoErr
}

func (f *fakeTenants) GetSettings(ctx context.Context, tenantID string) (*domain.CompanySettings, error) {
	return f.settings, f.settingsErr
}

func (f *fakeTenants) ListModules(ctx context.Context, tenantID string) ([]string, error) {
	return f.modules, f.modulesErr
}

type fakeViews struct {
	active      []domain.SmartView
	byIDs       []domain.SmartView
	subsections []domain.SmartView
	err         error

	byIDsGot []string
}

func (f *fakeViews) ListActiveByTenant(ctx context.Context, tenantID string) ([]domain.SmartView, error) {
	return f.active, f.err
}

func (f *fakeViews) ListByIDs(ctx context.Context, ids []string) ([]domain.SmartView, error) {
	f.byIDsGot = ids
	return f.byIDs, f.err
}

func (f *fakeViews) ListSubsections(ctx context.Context, tenantID string) ([]domain.SmartView, error) {
	return f.subsections, f.err
}

type bootstrapFixture struct {
	cache       *responsecache.TieredCache
	perms       *fakePerms
	views       *fakeViews
	tenants     *fakeTenants
	users       *fakeUsers
	memberships *fakeMemberships
	svc         *BootstrapService
}

func newBootstrapFixture(t *testing.T) *bootstrapFixture {
	t.Helper()
	f := &bootstrapFixture{
		cache: responsecache.New(100, time.Minute, 20, 5*time.Minute, nil, nil),
		perms: &fakePerms{perms: []domain.Permission{{Section: "reservations", Action: "read"}}},
		views: &fakeViews{},
		tenants: &fakeTenants{
			info:     &domain.Tenant{ID: "tenant-1", Name: "Acme Stays", IsActive: true},
			settings: &domain.CompanySettings{CompanyName: "Acme Stays", HeaderColor: "#112233"},
			modules:  []string{"reservations", "finance"},
		},
		users: &fakeUsers{departments: []domain.Department{
			{ID: "dep-1", TenantID: "tenant-1", Name: "Operations"},
		}},
		memberships: &fakeMemberships{rows: []domain.TenantMembership{{TenantID: "tenant-1", Role: "member"}}},
	}
	gate := accessgate.New("datastore", nil, nil)
	f.svc = NewBootstrapService(f.cache, security.NewEvaluator(nil), f.perms, f.views, f.tenants, f.users, f.memberships, gate, nil)
	return f
}

func testIdentity() *domain.Identity {
	return &domain.Identity{
		ID:          "user-1",
		Email:       "alice@example.com",
		TenantID:    "tenant-1",
		Permissions: []domain.Permission{{Section: "reservations", Action: "read"}},
	}
}

func TestAssembleFullPayload(t *testing.T) {
	f := newBootstrapFixture(t)

	payload, err := f.svc.Assemble(context.Background(), testIdentity(), false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.User.ID != "user-1" || payload.User.Role != "user" {
		t.Errorf("user = %+v", payload.User)
	}
	if payload.Tenant == nil || payload.Tenant.Name != "Acme Stays" {
		t.Errorf("tenant = %+v", payload.Tenant)
	}
	if payload.CompanySettings == nil || payload.CompanySettings.HeaderColor != "#112233" {
		t.Errorf("settings = %+v", payload.CompanySettings)
	}
	if len(payload.Modules) != 2 {
		t.Errorf("modules = %v", payload.Modules)
	}
	if len(payload.User.Departments) != 1 {
		t.Errorf("departments = %v", payload.User.Departments)
	}
	if payload.Metadata.Partial {
		t.Error("healthy assembly flagged partial")
	}
	if payload.Metadata.Version != payloadVersion {
		t.Errorf("version = %q", payload.Metadata.Version)
	}
	if payload.CacheInfo.CacheHit {
		t.Error("first assembly reported a cache hit")
	}
}

func TestAssembleServesFromL1(t *testing.T) {
	f := newBootstrapFixture(t)
	identity := testIdentity()

	if _, err := f.svc.Assemble(context.Background(), identity, false); err != nil {
		t.Fatalf("first assemble failed: %v", err)
	}
	payload, err := f.svc.Assemble(context.Background(), identity, false)
	if err != nil {
		t.Fatalf("second assemble failed: %v", err)
	}
	if !payload.CacheInfo.CacheHit || payload.CacheInfo.CacheLevel != "L1" {
		t.Errorf("cache info = %+v, want L1 hit", payload.CacheInfo)
	}
}

func TestAssembleForceRefreshSkipsL1(t *testing.T) {
	f := newBootstrapFixture(t)
	identity := testIdentity()

	if _, err := f.svc.Assemble(context.Background(), identity, false); err != nil {
		t.Fatalf("first assemble failed: %v", err)
	}
	f.tenants.modules = []string{"reservations", "finance", "housekeeping"}
	f.cache.InvalidateTenant(context.Background(), "tenant-1")

	payload, err := f.svc.Assemble(context.Background(), identity, true)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if payload.CacheInfo.CacheHit {
		t.Error("force refresh served from cache")
	}
	if len(payload.Modules) != 3 {
		t.Errorf("modules = %v, want refreshed list", payload.Modules)
	}
}

func TestAssembleL1IsolatedPerUser(t *testing.T) {
	f := newBootstrapFixture(t)

	if _, err := f.svc.Assemble(context.Background(), testIdentity(), false); err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	other := testIdentity()
	other.ID = "user-2"
	payload, err := f.svc.Assemble(context.Background(), other, false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.CacheInfo.CacheHit {
		t.Error("second user served first user's cached payload")
	}
}

func TestAssembleTenantSliceFailureDegrades(t *testing.T) {
	f := newBootstrapFixture(t)
	f.tenants.infoErr = errors.New("tenants table gone")
	f.tenants.settingsErr = errors.New("settings table gone")

	payload, err := f.svc.Assemble(context.Background(), testIdentity(), false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.Tenant != nil {
		t.Errorf("tenant = %+v, want nil", payload.Tenant)
	}
	if payload.CompanySettings != nil {
		t.Errorf("settings = %+v, want nil", payload.CompanySettings)
	}
	if !payload.Metadata.Partial {
		t.Error("degraded assembly not flagged partial")
	}
	// Unaffected branches still populate.
	if len(payload.Modules) != 2 {
		t.Errorf("modules = %v", payload.Modules)
	}
	if len(payload.User.Departments) != 1 {
		t.Errorf("departments = %v", payload.User.Departments)
	}
}

func TestAssembleEveryTenantFetchFails(t *testing.T) {
	f := newBootstrapFixture(t)
	f.tenants.infoErr = errors.New("down")
	f.tenants.settingsErr = errors.New("down")
	f.tenants.modulesErr = errors.New("down")

	payload, err := f.svc.Assemble(context.Background(), testIdentity(), false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.Tenant != nil || payload.CompanySettings != nil {
		t.Errorf("tenant = %+v, settings = %+v, want nil", payload.Tenant, payload.CompanySettings)
	}
	if payload.Modules == nil || len(payload.Modules) != 0 {
		t.Errorf("modules = %#v, want empty non-nil slice", payload.Modules)
	}
	if !payload.Metadata.Partial {
		t.Error("degraded assembly not flagged partial")
	}
}

func TestAssemblePartialNotWrittenToL2(t *testing.T) {
	f := newBootstrapFixture(t)
	f.tenants.infoErr = errors.New("down")

	if _, err := f.svc.Assemble(context.Background(), testIdentity(), false); err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	// The degraded slice is cached tenant-wide too; a later refresh after
	// invalidation picks up the recovered value.
	f.tenants.infoErr = nil
	f.cache.InvalidateTenant(context.Background(), "tenant-1")

	payload, err := f.svc.Assemble(context.Background(), testIdentity(), true)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.Tenant == nil {
		t.Error("recovered tenant info not served after invalidation")
	}
}

func TestAssembleNoTenantDefaults(t *testing.T) {
	f := newBootstrapFixture(t)
	f.memberships.rows = nil
	identity := testIdentity()
	identity.TenantID = ""

	payload, err := f.svc.Assemble(context.Background(), identity, false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.Tenant != nil {
		t.Errorf("tenant = %+v, want nil", payload.Tenant)
	}
	if payload.CompanySettings == nil || payload.CompanySettings.CompanyName != "The Flex" {
		t.Errorf("settings = %+v, want stock defaults", payload.CompanySettings)
	}
	if len(payload.Subsections) != 0 {
		t.Errorf("subsections = %v, want empty", payload.Subsections)
	}
	if payload.Metadata.TenantID != "" {
		t.Errorf("metadata tenant = %q, want empty", payload.Metadata.TenantID)
	}
}

func TestAssembleMembershipFallbackResolvesTenant(t *testing.T) {
	f := newBootstrapFixture(t)
	identity := testIdentity()
	identity.TenantID = ""

	payload, err := f.svc.Assemble(context.Background(), identity, false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.Metadata.TenantID != "tenant-1" {
		t.Errorf("metadata tenant = %q, want tenant-1", payload.Metadata.TenantID)
	}
	if payload.Tenant == nil || payload.Tenant.ID != "tenant-1" {
		t.Errorf("tenant = %+v", payload.Tenant)
	}
}

func TestAssembleAdminWildcardPermissions(t *testing.T) {
	f := newBootstrapFixture(t)
	identity := testIdentity()
	identity.IsAdmin = true

	payload, err := f.svc.Assemble(context.Background(), identity, false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if payload.User.Role != "admin" {
		t.Errorf("role = %q, want admin", payload.User.Role)
	}
	if len(payload.Permissions) != 1 || payload.Permissions[0].Section != "*" || payload.Permissions[0].Action != "*" {
		t.Errorf("permissions = %v, want full wildcard", payload.Permissions)
	}
}

func TestAssembleSmartViews(t *testing.T) {
	f := newBootstrapFixture(t)
	// Holding read on a gateway section is enough; the expansion grants
	// the tenant's active views.
	f.perms.perms = []domain.Permission{{Section: "reservations", Action: "read"}}
	f.views.active = []domain.SmartView{
		{ID: "v1", TenantID: "tenant-1", Name: "Arrivals", IsActive: true, IsEnabled: true},
		{ID: "v2", TenantID: "tenant-1", Name: "Departures", IsActive: true, IsEnabled: true},
	}
	f.views.byIDs = []domain.SmartView{
		{ID: "v1", Name: "Arrivals", Section: "reservations", IsActive: true, IsEnabled: true},
		{ID: "v2", Name: "Departures", Section: "daily_cs_task", IsActive: true, IsEnabled: true},
	}

	payload, err := f.svc.Assemble(context.Background(), testIdentity(), false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if len(f.views.byIDsGot) != 2 {
		t.Errorf("looked up ids = %v, want [v1 v2]", f.views.byIDsGot)
	}
	if got := payload.SmartViews["reservations"]; len(got) != 1 || got[0] != "v1" {
		t.Errorf("reservations views = %v", got)
	}
	if got := payload.SmartViews["customer_service"]; len(got) != 1 || got[0] != "v2" {
		t.Errorf("customer_service views = %v", got)
	}
}

func TestAssembleSynthesizesSmartViewPermissions(t *testing.T) {
	f := newBootstrapFixture(t)
	f.views.active = []domain.SmartView{
		{ID: "v1", TenantID: "tenant-1", Name: "Arrivals", IsActive: true, IsEnabled: true},
	}

	payload, err := f.svc.Assemble(context.Background(), testIdentity(), false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	found := false
	for _, p := range payload.Permissions {
		if p.Section == "smart_view_v1" && p.Action == "read" {
			found = true
		}
	}
	if !found {
		t.Errorf("permissions = %v, missing synthesized smart view read", payload.Permissions)
	}
}

func TestAssembleSubsections(t *testing.T) {
	f := newBootstrapFixture(t)
	f.views.subsections = []domain.SmartView{
		{ID: "v1", Name: "Arrivals", OrderIndex: 0, IsActive: true},
		{ID: "v2", Name: "Departures", OrderIndex: 1, IsActive: true},
	}

	payload, err := f.svc.Assemble(context.Background(), testIdentity(), false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if len(payload.Subsections) != 2 {
		t.Errorf("subsections = %v", payload.Subsections)
	}
}

func TestAssembleSubsectionsDeniedWithoutReservationsRead(t *testing.T) {
	f := newBootstrapFixture(t)
	f.views.subsections = []domain.SmartView{
		{ID: "v1", Name: "Arrivals", OrderIndex: 0, IsActive: true},
	}
	f.perms.perms = []domain.Permission{{Section: "finance", Action: "read"}}
	identity := testIdentity()
	identity.Permissions = []domain.Permission{{Section: "finance", Action: "read"}}

	payload, err := f.svc.Assemble(context.Background(), identity, false)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if len(payload.Subsections) != 0 {
		t.Errorf("subsections = %v, want none for caller without reservations read", payload.Subsections)
	}
	// A denial is not a degraded fetch.
	if payload.Metadata.Partial {
		t.Error("denial must not flag the payload partial")
	}
}
