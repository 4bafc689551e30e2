package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/observability/metrics"
	"github.com/propertyflow/backend/internal/reliability/accessgate"
	"github.com/propertyflow/backend/internal/responsecache"
	"github.com/propertyflow/backend/internal/security"
)

// payloadVersion tags every bootstrap response.
const payloadVersion = "1.0.0"

// targetResponseTime is how fast a full assembly should finish; slower
// responses are logged for the dashboard to pick up.
const targetResponseTime = 50 * time.Millisecond

// BootstrapService assembles the aggregated app-initialization payload:
// five independent sub-fetches run concurrently, each tolerating failure
// with its type's default, and the merged result feeds both cache tiers.
type BootstrapService struct {
	cache       *responsecache.TieredCache
	evaluator   *security.Evaluator
	perms       domain.PermissionRepository
	views       domain.ViewRepository
	tenants     domain.TenantRepository
	users       domain.UserRepository
	memberships domain.MembershipRepository
	gate        *accessgate.Gate
	logger      *slog.Logger
}

// NewBootstrapService creates the bootstrap service
func NewBootstrapService(
	cache *responsecache.TieredCache,
	evaluator *security.Evaluator,
	perms domain.PermissionRepository,
	views domain.ViewRepository,
	tenants domain.TenantRepository,
	users domain.UserRepository,
	memberships domain.MembershipRepository,
	gate *accessgate.Gate,
	logger *slog.Logger,
) *BootstrapService {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = security.NewEvaluator(logger)
	}
	return &BootstrapService{
		cache:       cache,
		evaluator:   evaluator,
		perms:       perms,
		views:       views,
		tenants:     tenants,
		users:       users,
		memberships: memberships,
		gate:        gate,
		logger:      logger,
	}
}

// Assemble returns the bootstrap payload for the identity, serving from L1
// unless forceRefresh is set. CacheInfo is recomputed for every response.
func (s *BootstrapService) Assemble(ctx context.Context, identity *domain.Identity, forceRefresh bool) (*domain.BootstrapPayload, error) {
	start := time.Now()

	tenantID := identity.TenantID
	if tenantID == "" {
		tenantID = s.lookupTenant(ctx, identity.ID)
	}

	if !forceRefresh {
		if cached, age, ok := s.cache.Get(identity.ID, tenantID); ok {
			response := *cached
			response.CacheInfo = domain.CacheInfo{
				CacheHit:        true,
				CacheLevel:      "L1",
				ResponseTimeMS:  time.Since(start).Milliseconds(),
				CacheAgeSeconds: int64(age.Seconds()),
			}
			metrics.ObserveBootstrap("l1", time.Since(start))
			return &response, nil
		}
	}

	payload := s.aggregate(ctx, identity, tenantID, start)

	elapsed := time.Since(start)
	metrics.ObserveBootstrap("aggregate", elapsed)
	if elapsed > targetResponseTime {
		s.logger.Warn("bootstrap assembly exceeded target",
			slog.String("user_id", identity.ID),
			slog.Duration("elapsed", elapsed),
			slog.Duration("target", targetResponseTime),
		)
	}
	return payload, nil
}

// aggregate runs the five sub-fetches concurrently and merges the results.
// The fan-out never short-circuits: every branch runs to completion, and a
// cancelled request lets in-flight branches finish so permits are released
// cleanly; the transport layer discards the response if nobody is waiting.
func (s *BootstrapService) aggregate(ctx context.Context, identity *domain.Identity, tenantID string, start time.Time) *domain.BootstrapPayload {
	fetchCtx := context.WithoutCancel(ctx)

	var (
		permissions []domain.Permission
		slice       *domain.TenantSlice
		sliceFresh  bool
		smartViews  map[string][]string
		subsections []domain.SmartView
		departments []domain.Department
		partial     atomic.Bool
	)

	var g errgroup.Group

	g.Go(func() error {
		permissions = s.fetchExpandedPermissions(fetchCtx, identity, tenantID, &partial)
		return nil
	})
	g.Go(func() error {
		slice, sliceFresh = s.fetchTenantSlice(fetchCtx, tenantID, &partial)
		return nil
	})
	g.Go(func() error {
		smartViews = s.fetchSmartViewGroups(fetchCtx, identity, tenantID, &partial)
		return nil
	})
	g.Go(func() error {
		subsections = s.fetchSubsections(fetchCtx, identity, tenantID, &partial)
		return nil
	})
	g.Go(func() error {
		departments = s.fetchDepartments(fetchCtx, identity.ID, &partial)
		return nil
	})
	_ = g.Wait()

	role := "user"
	if identity.IsAdmin {
		role = "admin"
	}
	payload := &domain.BootstrapPayload{
		User: domain.BootstrapUser{
			ID:          identity.ID,
			Email:       identity.Email,
			Role:        role,
			IsAdmin:     identity.IsAdmin,
			Departments: departments,
		},
		Tenant:          slice.Info,
		CompanySettings: slice.CompanySettings,
		Permissions:     permissions,
		Modules:         slice.Modules,
		SmartViews:      smartViews,
		Subsections:     subsections,
		Metadata: domain.BootstrapMetadata{
			TenantID:  tenantID,
			Timestamp: time.Now().UTC(),
			Version:   payloadVersion,
			Partial:   partial.Load(),
		},
		CacheInfo: domain.CacheInfo{
			CacheHit:       false,
			CacheLevel:     "none",
			ResponseTimeMS: time.Since(start).Milliseconds(),
		},
	}
	if partial.Load() {
		metrics.ObserveBootstrapPartial()
	}

	s.cache.Put(identity.ID, tenantID, payload)
	if sliceFresh && tenantID != "" {
		s.cache.PutTenant(fetchCtx, tenantID, slice)
	}
	return payload
}

// fetchExpandedPermissions returns the user's permission set including
// synthesized smart-view reads. Admins get the full wildcard instead of a
// table scan.
func (s *BootstrapService) fetchExpandedPermissions(ctx context.Context, identity *domain.Identity, tenantID string, partial *atomic.Bool) []domain.Permission {
	if identity.IsAdmin {
		return []domain.Permission{{Section: security.Wildcard, Action: security.Wildcard}}
	}

	var permissions []domain.Permission
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		permissions, err = s.perms.ListByUser(ctx, identity.ID)
		return err
	})
	if err != nil {
		s.logger.Warn("bootstrap permissions degraded",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		partial.Store(true)
		return []domain.Permission{}
	}

	if tenantID == "" {
		return security.ExpandSmartViewPermissions(permissions, nil)
	}

	var views []domain.SmartView
	err = s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		views, err = s.views.ListActiveByTenant(ctx, tenantID)
		return err
	})
	if err != nil {
		s.logger.Warn("smart view list degraded, expansion skipped",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		partial.Store(true)
		views = nil
	}
	return security.ExpandSmartViewPermissions(permissions, views)
}

// fetchTenantSlice serves the tenant-wide data from L2 when possible. The
// second return reports whether the slice was computed fresh and should be
// written back to L2. Without a tenant the fixed default record is used
// directly, with no data-store call.
func (s *BootstrapService) fetchTenantSlice(ctx context.Context, tenantID string, partial *atomic.Bool) (*domain.TenantSlice, bool) {
	if tenantID == "" {
		return defaultTenantSlice(), false
	}
	if cached, ok := s.cache.GetTenant(ctx, tenantID); ok {
		return cached, false
	}

	slice := &domain.TenantSlice{Modules: []string{}}

	if err := s.gate.Do(ctx, func(ctx context.Context) error {
		info, err := s.tenants.GetInfo(ctx, tenantID)
		if err != nil {
			return err
		}
		slice.Info = info
		return nil
	}); err != nil {
		s.logger.Warn("tenant info degraded", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		partial.Store(true)
	}

	if err := s.gate.Do(ctx, func(ctx context.Context) error {
		settings, err := s.tenants.GetSettings(ctx, tenantID)
		if err != nil {
			return err
		}
		slice.CompanySettings = settings
		return nil
	}); err != nil {
		// No defaults here: the frontend renders a skeleton loader when
		// settings are absent.
		s.logger.Warn("company settings degraded", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		partial.Store(true)
	}

	if err := s.gate.Do(ctx, func(ctx context.Context) error {
		modules, err := s.tenants.ListModules(ctx, tenantID)
		if err != nil {
			return err
		}
		slice.Modules = modules
		return nil
	}); err != nil {
		s.logger.Warn("module list degraded", slog.String("tenant_id", tenantID), slog.String("error", err.Error()))
		partial.Store(true)
	}

	return slice, true
}

// fetchSmartViewGroups resolves which smart views the user can see and
// groups them by section. Held permissions are expanded against the
// tenant's active views first, so holding read on a gateway section is
// enough; admins see every active view.
func (s *BootstrapService) fetchSmartViewGroups(ctx context.Context, identity *domain.Identity, tenantID string, partial *atomic.Bool) map[string][]string {
	if tenantID == "" {
		return map[string][]string{}
	}

	var active []domain.SmartView
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		active, err = s.views.ListActiveByTenant(ctx, tenantID)
		return err
	})
	if err != nil {
		s.logger.Warn("smart view grouping degraded",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		partial.Store(true)
		return map[string][]string{}
	}

	var ids []string
	if identity.IsAdmin {
		ids = make([]string, 0, len(active))
		for _, view := range active {
			ids = append(ids, view.ID)
		}
	} else {
		var permissions []domain.Permission
		err := s.gate.Do(ctx, func(ctx context.Context) error {
			var err error
			permissions, err = s.perms.ListByUser(ctx, identity.ID)
			return err
		})
		if err != nil {
			s.logger.Warn("smart view grouping degraded",
				slog.String("user_id", identity.ID),
				slog.String("error", err.Error()),
			)
			partial.Store(true)
			return map[string][]string{}
		}
		ids = security.SmartViewIDs(security.ExpandSmartViewPermissions(permissions, active))
	}
	if len(ids) == 0 {
		return map[string][]string{}
	}

	var views []domain.SmartView
	err = s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		views, err = s.views.ListByIDs(ctx, ids)
		return err
	})
	if err != nil {
		s.logger.Warn("smart view lookup degraded",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		partial.Store(true)
		return map[string][]string{}
	}
	return security.GroupSmartViewsBySection(views)
}

// fetchSubsections lists the reservation subsections. The slice is
// permission-gated: callers without read access to reservations get an
// empty list, which is a denial, not a degradation.
func (s *BootstrapService) fetchSubsections(ctx context.Context, identity *domain.Identity, tenantID string, partial *atomic.Bool) []domain.SmartView {
	if tenantID == "" {
		return []domain.SmartView{}
	}
	if err := s.evaluator.Require(identity, "reservations", "read"); err != nil {
		return []domain.SmartView{}
	}
	var subsections []domain.SmartView
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		subsections, err = s.views.ListSubsections(ctx, tenantID)
		return err
	})
	if err != nil {
		s.logger.Warn("subsection fetch degraded",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		partial.Store(true)
		return []domain.SmartView{}
	}
	return subsections
}

func (s *BootstrapService) fetchDepartments(ctx context.Context, userID string, partial *atomic.Bool) []domain.Department {
	var departments []domain.Department
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		departments, err = s.users.ListDepartments(ctx, userID)
		return err
	})
	if err != nil {
		s.logger.Warn("department fetch degraded",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		partial.Store(true)
		return []domain.Department{}
	}
	return departments
}

// lookupTenant is the identity-less fallback when auth could not resolve a
// tenant: the first active membership wins. Failure degrades to tenantless
// defaults rather than failing the request.
func (s *BootstrapService) lookupTenant(ctx context.Context, userID string) string {
	var rows []domain.TenantMembership
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = s.memberships.ListActiveByUser(ctx, userID)
		return err
	})
	if err != nil || len(rows) == 0 {
		return ""
	}
	return rows[0].TenantID
}

// defaultTenantSlice is served when no tenant is resolved; the settings
// match the product's stock branding.
func defaultTenantSlice() *domain.TenantSlice {
	return &domain.TenantSlice{
		Info: nil,
		CompanySettings: &domain.CompanySettings{
			CompanyName:    "The Flex",
			HeaderColor:    "#284E4C",
			PrimaryColor:   "#FFF9E9",
			SecondaryColor: "#FFFDF6",
			AccentColor:    "#284E4C",
		},
		Modules: []string{},
	}
}
