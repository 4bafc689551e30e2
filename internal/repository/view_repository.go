package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/propertyflow/backend/internal/domain"
)

// PostgresViewRepository implements domain.ViewRepository using PostgreSQL.
// Smart views and reservation subsections share one table.
type PostgresViewRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresViewRepository creates a new view repository
func NewPostgresViewRepository(db *sql.DB, logger *slog.Logger) *PostgresViewRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresViewRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveByTenant returns the tenant's active, enabled views. This is
// the set permission expansion synthesizes reads for.
func (r *PostgresViewRepository) ListActiveByTenant(ctx context.Context, tenantID string) ([]domain.SmartView, error) {
	query := `
		SELECT id, tenant_id, name, COALESCE(section, ''), sections, order_index, is_active, is_enabled
		FROM reservation_subsections
		WHERE tenant_id = $1 AND is_active = true AND is_enabled = true
		ORDER BY order_index
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		r.logger.Error("failed to list active views",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list active views: %w", err)
	}
	defer rows.Close()

	return scanViews(rows)
}

// ListByIDs returns the views for the given IDs, active or not; callers
// filter on the flags they care about.
func (r *PostgresViewRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.SmartView, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, tenant_id, name, COALESCE(section, ''), sections, order_index, is_active, is_enabled
		FROM reservation_subsections
		WHERE id = ANY($1)
		ORDER BY order_index
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		r.logger.Error("failed to list views by id",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list views by id: %w", err)
	}
	defer rows.Close()

	return scanViews(rows)
}

// ListSubsections returns the tenant's ordered subsection list for the
// reservations sidebar.
func (r *PostgresViewRepository) ListSubsections(ctx context.Context, tenantID string) ([]domain.SmartView, error) {
	query := `
		SELECT id, tenant_id, name, COALESCE(section, ''), sections, order_index, is_active, is_enabled
		FROM reservation_subsections
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY order_index, name
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		r.logger.Error("failed to list subsections",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to list subsections: %w", err)
	}
	defer rows.Close()

	return scanViews(rows)
}

func scanViews(rows *sql.Rows) ([]domain.SmartView, error) {
	var views []domain.SmartView
	for rows.Next() {
		var view domain.SmartView
		var sections pq.StringArray
		if err := rows.Scan(
			&view.ID,
			&view.TenantID,
			&view.Name,
			&view.Section,
			&sections,
			&view.OrderIndex,
			&view.IsActive,
			&view.IsEnabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		view.Sections = []string(sections)
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate views: %w", err)
	}
	return views, nil
}
