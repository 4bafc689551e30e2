package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/propertyflow/backend/internal/domain"
)

// PostgresTenantRepository implements domain.TenantRepository using
// PostgreSQL
type PostgresTenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresTenantRepository creates a new tenant repository
func NewPostgresTenantRepository(db *sql.DB, logger *slog.Logger) *PostgresTenantRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTenantRepository{
		db:     db,
		logger: logger,
	}
}

// GetInfo retrieves the tenant row.
func (r *PostgresTenantRepository) GetInfo(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	tenant := &domain.Tenant{}

	query := `
		SELECT id, name, created_at, is_active
		FROM tenants
		WHERE id = $1
	`

	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.CreatedAt,
		&tenant.IsActive,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("failed to get tenant",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

// GetSettings retrieves the tenant's branding. A missing row is not an
// error: the frontend renders a skeleton loader for nil settings.
func (r *PostgresTenantRepository) GetSettings(ctx context.Context, tenantID string) (*domain.CompanySettings, error) {
	settings := &domain.CompanySettings{}

	query := `
		SELECT company_name, logo_url, domain, header_color, primary_color,
		       secondary_color, accent_color, favicon_url, tenant_id
		FROM company_settings
		WHERE tenant_id = $1
	`

	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&settings.CompanyName,
		&settings.LogoURL,
		&settings.Domain,
		&settings.HeaderColor,
		&settings.PrimaryColor,
		&settings.SecondaryColor,
		&settings.AccentColor,
		&settings.FaviconURL,
		&settings.TenantID,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("failed to get company settings",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to get company settings: %w", err)
	}

	return settings, nil
}

// ListModules returns the tenant's enabled module names.
func (r *PostgresTenantRepository) ListModules(ctx context.Context, tenantID string) ([]string, error) {
	query := `
		SELECT module_name
		FROM tenant_modules
		WHERE tenant_id = $1 AND is_enabled = true
		ORDER BY module_name
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		r.logger.Error("failed to list modules",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	modules := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		modules = append(modules, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate modules: %w", err)
	}

	return modules, nil
}
