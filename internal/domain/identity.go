package domain

import "time"

// Permission grants an action on a section. The wildcard value "*" in
// either field matches anything.
type Permission struct {
	Section string `json:"section"`
	Action  string `json:"action"`
}

// IdentitySource records which verification path produced a RawIdentity.
type IdentitySource string

const (
	SourceLocal    IdentitySource = "local"
	SourceProvider IdentitySource = "provider"
)

// RawIdentity is the normalized output of token verification, before
// permissions, cities and tenant membership are attached. Both the local
// JWT path and the external identity provider produce this shape.
type RawIdentity struct {
	ID       string
	Email    string
	Role     string // role claim from token metadata, may be empty
	TenantID string // tenant claim from token metadata, may be empty
	Source   IdentitySource
}

// Identity is the fully resolved caller identity. It is immutable after
// creation and shared by the auth cache and all request handlers for the
// lifetime of the token's cache window.
type Identity struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	TenantID    string       `json:"tenant_id,omitempty"`
	IsAdmin     bool         `json:"is_admin"`
	Permissions []Permission `json:"permissions"`
	Cities      []string     `json:"cities"`
}

// User is a locally stored account used by the password login endpoint.
// Most callers authenticate against the external identity provider and
// never touch this table.
type User struct {
	ID           string
	Email        string
	PasswordHash string // bcrypt, never returned in API responses
	TenantID     string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TenantMembership is one active row of the user_tenants table.
type TenantMembership struct {
	TenantID string
	Role     string
}

// Department is a tenant-scoped organizational unit a user can belong to.
type Department struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}
