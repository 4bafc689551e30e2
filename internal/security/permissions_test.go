package security

import (
	"errors"
	"reflect"
	"testing"

	"github.com/propertyflow/backend/internal/domain"
)

func identityWith(perms ...domain.Permission) *domain.Identity {
	return &domain.Identity{
		ID:          "u-1",
		Email:       "user@example.com",
		TenantID:    "tenant-1",
		Permissions: perms,
	}
}

func TestAllowsAdminBypass(t *testing.T) {
	e := NewEvaluator(nil)
	admin := &domain.Identity{ID: "u-admin", IsAdmin: true}
	if !e.Allows(admin, "anything", "anything") {
		t.Fatalf("expected admin to be allowed everything")
	}
}

func TestAllowsExactMatch(t *testing.T) {
	e := NewEvaluator(nil)
	id := identityWith(domain.Permission{Section: "reservations", Action: "read"})
	if !e.Allows(id, "reservations", "read") {
		t.Fatalf("expected exact permission to allow")
	}
	if e.Allows(id, "reservations", "write") {
		t.Fatalf("expected mismatched action to deny")
	}
	if e.Allows(id, "billing", "read") {
		t.Fatalf("expected mismatched section to deny")
	}
}

func TestAllowsWildcards(t *testing.T) {
	e := NewEvaluator(nil)
	id := identityWith(domain.Permission{Section: "*", Action: "*"})
	cases := [][2]string{
		{"reservations", "read"},
		{"billing", "delete"},
		{"x", "y"},
	}
	for _, c := range cases {
		if !e.Allows(id, c[0], c[1]) {
			t.Fatalf("expected wildcard to allow %s.%s", c[0], c[1])
		}
	}

	actionWild := identityWith(domain.Permission{Section: "reservations", Action: "*"})
	if !e.Allows(actionWild, "reservations", "delete") {
		t.Fatalf("expected action wildcard to allow")
	}
	if e.Allows(actionWild, "billing", "read") {
		t.Fatalf("expected action wildcard to stay section-scoped")
	}
}

func TestAllowsAllReservationsAlias(t *testing.T) {
	e := NewEvaluator(nil)
	id := identityWith(domain.Permission{Section: "all_reservations", Action: "read"})
	if !e.Allows(id, "reservations", "read") {
		t.Fatalf("expected all_reservations to satisfy reservations check")
	}
	if e.Allows(id, "all_reservations_other", "read") {
		t.Fatalf("alias must not leak to other sections")
	}
}

func TestAllowsEmptyPermissionsDenies(t *testing.T) {
	e := NewEvaluator(nil)
	if e.Allows(identityWith(), "billing", "read") {
		t.Fatalf("expected empty permission set to deny")
	}
}

func TestRequire(t *testing.T) {
	e := NewEvaluator(nil)
	id := identityWith(domain.Permission{Section: "reservations", Action: "read"})
	if err := e.Require(id, "reservations", "read"); err != nil {
		t.Fatalf("expected no error: %v", err)
	}
	if err := e.Require(id, "billing", "read"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func activeViews(ids ...string) []domain.SmartView {
	views := make([]domain.SmartView, 0, len(ids))
	for _, id := range ids {
		views = append(views, domain.SmartView{ID: id, TenantID: "tenant-1", IsActive: true})
	}
	return views
}

func TestExpandSmartViewPermissionsViaGatewaySection(t *testing.T) {
	base := []domain.Permission{{Section: "reservations", Action: "read"}}
	expanded := ExpandSmartViewPermissions(base, activeViews("v1", "v2"))

	want := []domain.Permission{
		{Section: "reservations", Action: "read"},
		{Section: "smart_view_v1", Action: "read"},
		{Section: "smart_view_v2", Action: "read"},
	}
	if !reflect.DeepEqual(expanded, want) {
		t.Fatalf("unexpected expansion: %v", expanded)
	}
}

func TestExpandSmartViewPermissionsNotEligible(t *testing.T) {
	base := []domain.Permission{{Section: "billing", Action: "read"}}
	expanded := ExpandSmartViewPermissions(base, activeViews("v1"))
	if len(expanded) != 1 {
		t.Fatalf("expected no synthesized permissions, got %v", expanded)
	}
}

func TestExpandSmartViewPermissionsViaExistingViewPermission(t *testing.T) {
	base := []domain.Permission{{Section: "smart_view_v0", Action: "read"}}
	expanded := ExpandSmartViewPermissions(base, activeViews("v1"))
	want := []domain.Permission{
		{Section: "smart_view_v0", Action: "read"},
		{Section: "smart_view_v1", Action: "read"},
	}
	if !reflect.DeepEqual(expanded, want) {
		t.Fatalf("unexpected expansion: %v", expanded)
	}
}

func TestExpandSmartViewPermissionsIdempotent(t *testing.T) {
	base := []domain.Permission{{Section: "customer_service", Action: "read"}}
	views := activeViews("v1", "v2")

	once := ExpandSmartViewPermissions(base, views)
	twice := ExpandSmartViewPermissions(once, views)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("expansion not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestSmartViewIDs(t *testing.T) {
	perms := []domain.Permission{
		{Section: "reservations", Action: "read"},
		{Section: "smart_view_a", Action: "read"},
		{Section: "smart_view_b", Action: "read"},
		{Section: "smart_view_a", Action: "write"},
		{Section: "smart_view_", Action: "read"},
	}
	ids := SmartViewIDs(perms)
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestGroupSmartViewsBySection(t *testing.T) {
	views := []domain.SmartView{
		{ID: "v1", Sections: []string{"reservations"}},
		{ID: "v2", Section: "reservations"},
		{ID: "v3", Sections: []string{"daily_cs_task"}},
		{ID: "v4", Sections: []string{"reservations", "customer_service"}},
	}
	grouped := GroupSmartViewsBySection(views)
	if !reflect.DeepEqual(grouped["reservations"], []string{"v1", "v2", "v4"}) {
		t.Fatalf("unexpected reservations group: %v", grouped["reservations"])
	}
	if !reflect.DeepEqual(grouped["customer_service"], []string{"v3", "v4"}) {
		t.Fatalf("expected daily_cs_task folded into customer_service: %v", grouped["customer_service"])
	}
}
