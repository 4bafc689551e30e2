package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/propertyflow/backend/internal/domain"
)

// PostgresPermissionRepository implements domain.PermissionRepository and
// domain.MembershipRepository using PostgreSQL
type PostgresPermissionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresPermissionRepository creates a new permission repository
func NewPostgresPermissionRepository(db *sql.DB, logger *slog.Logger) *PostgresPermissionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPermissionRepository{
		db:     db,
		logger: logger,
	}
}

// ListByUser returns the user's explicit permission grants.
func (r *PostgresPermissionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Permission, error) {
	query := `
		SELECT section, action
		FROM user_permissions
		WHERE user_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list permissions",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []domain.Permission
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.Section, &p.Action); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	return permissions, nil
}

// ListActiveByUser returns the user's active tenant memberships, admins
// and owners first so role checks can stop at the first row.
func (r *PostgresPermissionRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.TenantMembership, error) {
	query := `
		SELECT tenant_id, role
		FROM user_tenants
		WHERE user_id = $1 AND is_active = true
		ORDER BY CASE WHEN role IN ('admin', 'owner') THEN 0 ELSE 1 END, created_at
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list memberships",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []domain.TenantMembership
	for rows.Next() {
		var m domain.TenantMembership
		if err := rows.Scan(&m.TenantID, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return memberships, nil
}
