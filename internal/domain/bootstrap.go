package domain

import "time"

// Tenant is the tenants row served in the bootstrap payload.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// CompanySettings holds per-tenant branding. A nil value means the
// frontend should render its skeleton loader instead of defaults.
type CompanySettings struct {
	CompanyName    string  `json:"company_name"`
	LogoURL        *string `json:"logo_url"`
	Domain         *string `json:"domain"`
	HeaderColor    string  `json:"header_color"`
	PrimaryColor   string  `json:"primary_color"`
	SecondaryColor string  `json:"secondary_color"`
	AccentColor    string  `json:"accent_color"`
	FaviconURL     *string `json:"favicon_url"`
	TenantID       *string `json:"tenant_id"`
}

// TenantSlice is the tenant-wide share of the bootstrap payload. It is
// what the L2 cache stores, keyed by tenant alone.
type TenantSlice struct {
	Info            *Tenant          `json:"info"`
	CompanySettings *CompanySettings `json:"company_settings"`
	Modules         []string         `json:"modules"`
}

// SmartView is a tenant-defined saved filter over reservations, exposed to
// users as a synthesized smart_view_<id> read permission. The same table
// backs the ordered subsection list.
type SmartView struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenant_id"`
	Name       string   `json:"name"`
	Section    string   `json:"section,omitempty"`
	Sections   []string `json:"sections,omitempty"`
	OrderIndex int      `json:"order_index"`
	IsActive   bool     `json:"is_active"`
	IsEnabled  bool     `json:"is_enabled"`
}

// BootstrapUser is the caller's own slice of the bootstrap payload.
type BootstrapUser struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Role        string       `json:"role"`
	IsAdmin     bool         `json:"is_admin"`
	Departments []Department `json:"departments"`
}

// BootstrapMetadata describes the assembly, not the data. Partial is set
// when one or more sub-fetches fell back to defaults so clients can prompt
// a refresh.
type BootstrapMetadata struct {
	TenantID  string    `json:"tenant_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Partial   bool      `json:"partial"`
}

// CacheInfo is recomputed for every served response, never cached.
type CacheInfo struct {
	CacheHit        bool   `json:"cache_hit"`
	CacheLevel      string `json:"cache_level"`
	ResponseTimeMS  int64  `json:"response_time_ms"`
	CacheAgeSeconds int64  `json:"cache_age_seconds"`
}

// BootstrapPayload is the aggregated response for app initialization.
type BootstrapPayload struct {
	User            BootstrapUser       `json:"user"`
	Tenant          *Tenant             `json:"tenant"`
	CompanySettings *CompanySettings    `json:"company_settings"`
	Permissions     []Permission        `json:"permissions"`
	Modules         []string            `json:"modules"`
	SmartViews      map[string][]string `json:"smart_views"`
	Subsections     []SmartView         `json:"subsections"`
	Metadata        BootstrapMetadata   `json:"metadata"`
	CacheInfo       CacheInfo           `json:"cache_info"`
}
