package domain

import "context"

// IdentityProvider verifies a bearer token with the external identity
// service. Implementations must not cache results; caching is the auth
// service's concern.
type IdentityProvider interface {
	Verify(ctx context.Context, rawToken string) (*RawIdentity, error)
}

// TenantResolver resolves the caller's tenant through a fallback chain
// whose data sources are an implementation detail. An empty tenant ID with
// a nil error means no tenant could be resolved.
type TenantResolver interface {
	ResolveTenantID(ctx context.Context, rawToken, userID, email string) (string, error)

	// UpdateUserTenantMetadata is best-effort and invoked as a background
	// task; callers never await it on the request path.
	UpdateUserTenantMetadata(ctx context.Context, userID, tenantID string) error
}

// PermissionRepository reads the user_permissions table.
type PermissionRepository interface {
	ListByUser(ctx context.Context, userID string) ([]Permission, error)
}

// MembershipRepository reads active user_tenants rows.
type MembershipRepository interface {
	ListActiveByUser(ctx context.Context, userID string) ([]TenantMembership, error)
}

// UserRepository covers user-scoped lookups: the local users table for
// password login, city assignments and department memberships.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListCities(ctx context.Context, userID string) ([]string, error)
	ListDepartments(ctx context.Context, userID string) ([]Department, error)
	UpdateTenantMetadata(ctx context.Context, userID, tenantID string) error
}

// TenantRepository reads the three tenant-wide collections that make up a
// TenantSlice. Each part is fetched independently so one failure degrades
// only its own field.
type TenantRepository interface {
	GetInfo(ctx context.Context, tenantID string) (*Tenant, error)
	GetSettings(ctx context.Context, tenantID string) (*CompanySettings, error)
	ListModules(ctx context.Context, tenantID string) ([]string, error)
}

// ViewRepository reads the reservation_subsections table, which backs both
// smart views and the ordered subsection list.
type ViewRepository interface {
	ListActiveByTenant(ctx context.Context, tenantID string) ([]SmartView, error)
	ListByIDs(ctx context.Context, ids []string) ([]SmartView, error)
	ListSubsections(ctx context.Context, tenantID string) ([]SmartView, error)
}
