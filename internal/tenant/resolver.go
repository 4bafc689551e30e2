package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/reliability/accessgate"
	"github.com/propertyflow/backend/internal/reliability/retry"
)

// Resolver maps an authenticated user to their tenant through a fallback
// chain: active tenant memberships first, then the tenant recorded on the
// local user row. An empty result with a nil error means no tenant.
type Resolver struct {
	memberships domain.MembershipRepository
	users       domain.UserRepository
	gate        *accessgate.Gate
	retryCfg    *retry.Config
	logger      *slog.Logger
}

// NewResolver creates a tenant resolver
func NewResolver(
	memberships domain.MembershipRepository,
	users domain.UserRepository,
	gate *accessgate.Gate,
	logger *slog.Logger,
) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		memberships: memberships,
		users:       users,
		gate:        gate,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger,
	}
}

// ResolveTenantID walks the fallback chain. Membership lookup failure is a
// hard error: serving a guessed tenant is worse than denying the request.
func (r *Resolver) ResolveTenantID(ctx context.Context, rawToken, userID, email string) (string, error) {
	var rows []domain.TenantMembership
	err := r.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = retry.Do(ctx, r.retryCfg, r.logger, "list tenant memberships",
			func(ctx context.Context) ([]domain.TenantMembership, error) {
				return r.memberships.ListActiveByUser(ctx, userID)
			})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("membership lookup failed: %w", err)
	}
	if len(rows) > 0 {
		return rows[0].TenantID, nil
	}

	// No membership rows; fall back to the tenant recorded at signup.
	user, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("no tenant resolved",
				slog.String("user_id", userID),
				slog.String("email", email),
			)
			return "", nil
		}
		return "", fmt.Errorf("user lookup failed: %w", err)
	}
	return user.TenantID, nil
}

// UpdateUserTenantMetadata persists the resolved tenant for future logins.
// Best-effort by contract: callers run it off the request path.
func (r *Resolver) UpdateUserTenantMetadata(ctx context.Context, userID, tenantID string) error {
	_, err := retry.Do(ctx, r.retryCfg, r.logger, "update tenant metadata",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.users.UpdateTenantMetadata(ctx, userID, tenantID)
		})
	return err
}
