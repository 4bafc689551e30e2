package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/observability/metrics"
	"github.com/propertyflow/backend/internal/reliability/accessgate"
	"github.com/propertyflow/backend/internal/security/auth"
)

// tokenPreviewLen bounds how much of a raw token ever reaches a log line.
const tokenPreviewLen = 20

// AuthService resolves bearer tokens to identities, caching results by a
// one-way fingerprint of the token so the raw credential is never retained.
type AuthService struct {
	provider    domain.IdentityProvider
	tokens      *auth.TokenManager
	resolver    domain.TenantResolver
	perms       domain.PermissionRepository
	users       domain.UserRepository
	memberships domain.MembershipRepository
	gate        *accessgate.Gate

	cache      sync.Map // fingerprint -> *authEntry
	cacheSize  atomic.Int64
	cacheTTL   time.Duration
	bypass     bool
	admins     map[string]struct{}
	logger     *slog.Logger
	metaUpdate func(userID, tenantID string) // background metadata update hook
}

type authEntry struct {
	identity  *domain.Identity
	createdAt time.Time
}

// AuthServiceOptions collects the auth service's tuning knobs.
type AuthServiceOptions struct {
	CacheTTL    time.Duration
	AdminEmails []string
	BypassCache bool // force full resolution on every request (debugging)
}

// NewAuthService creates the auth service
func NewAuthService(
	provider domain.IdentityProvider,
	tokens *auth.TokenManager,
	resolver domain.TenantResolver,
	perms domain.PermissionRepository,
	users domain.UserRepository,
	memberships domain.MembershipRepository,
	gate *accessgate.Gate,
	opts AuthServiceOptions,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	admins := make(map[string]struct{}, len(opts.AdminEmails))
	for _, email := range opts.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}

	s := &AuthService{
		provider:    provider,
		tokens:      tokens,
		resolver:    resolver,
		perms:       perms,
		users:       users,
		memberships: memberships,
		gate:        gate,
		cacheTTL:    opts.CacheTTL,
		bypass:      opts.BypassCache,
		admins:      admins,
		logger:      logger,
	}
	s.metaUpdate = s.updateTenantMetadata
	return s
}

// Fingerprint returns the cache key for a raw token: the first 16 hex
// characters of its SHA-256. The raw token itself is never stored.
func Fingerprint(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])[:16]
}

// Resolve authenticates a bearer token, serving from the fingerprint cache
// when possible. A cached identity without a tenant is never served: it is
// dropped and re-resolved, because tenant isolation outranks hit rate.
func (s *AuthService) Resolve(ctx context.Context, rawToken string) (*domain.Identity, error) {
	if rawToken == "" {
		return nil, domain.ErrUnauthenticated
	}
	fp := Fingerprint(rawToken)

	if s.bypass {
		metrics.ObserveAuthCache("bypass")
	} else if cached, ok := s.cache.Load(fp); ok {
		entry := cached.(*authEntry)
		switch {
		case time.Since(entry.createdAt) >= s.cacheTTL:
			s.deleteEntry(fp)
		case entry.identity.TenantID == "":
			s.logger.Warn("cached identity missing tenant, forcing refresh",
				slog.String("token_hash", fp),
				slog.String("email", entry.identity.Email),
			)
			s.deleteEntry(fp)
		default:
			metrics.ObserveAuthCache("hit")
			return entry.identity, nil
		}
	}
	metrics.ObserveAuthCache("miss")

	identity, err := s.resolveFull(ctx, rawToken, fp)
	if err != nil {
		return nil, err
	}

	// An identity without a resolved tenant is served but never retained,
	// so the next request re-runs the tenant fallback chain.
	if identity.TenantID != "" && !s.bypass {
		s.cache.Store(fp, &authEntry{identity: identity, createdAt: time.Now()})
		s.cacheSize.Add(1)
	}
	s.SweepExpired()
	return identity, nil
}

// VerifyOnly performs a full resolution without consulting or populating
// the cache. Used for WebSocket upgrades, where a stale identity cannot be
// refreshed mid-connection.
func (s *AuthService) VerifyOnly(ctx context.Context, rawToken string) (*domain.Identity, error) {
	if rawToken == "" {
		return nil, domain.ErrUnauthenticated
	}
	return s.resolveFull(ctx, rawToken, Fingerprint(rawToken))
}

// InvalidateUser removes every cached entry for the given user and returns
// the count. Called after permission or tenant changes.
func (s *AuthService) InvalidateUser(userID string) int {
	removed := 0
	s.cache.Range(func(key, value interface{}) bool {
		if value.(*authEntry).identity.ID == userID {
			if s.cache.CompareAndDelete(key, value) {
				s.cacheSize.Add(-1)
				removed++
			}
		}
		return true
	})
	if removed > 0 {
		s.logger.Info("invalidated auth cache entries",
			slog.String("user_id", userID),
			slog.Int("count", removed),
		)
	}
	metrics.SetAuthCacheEntries(int(s.cacheSize.Load()))
	return removed
}

// Clear removes all cached entries and returns the count. Privileged.
func (s *AuthService) Clear() int {
	removed := 0
	s.cache.Range(func(key, value interface{}) bool {
		if s.cache.CompareAndDelete(key, value) {
			s.cacheSize.Add(-1)
			removed++
		}
		return true
	})
	s.logger.Info("cleared auth cache", slog.Int("count", removed))
	metrics.SetAuthCacheEntries(int(s.cacheSize.Load()))
	return removed
}

// SweepExpired removes entries older than the TTL and returns the count.
func (s *AuthService) SweepExpired() int {
	removed := 0
	now := time.Now()
	s.cache.Range(func(key, value interface{}) bool {
		if now.Sub(value.(*authEntry).createdAt) >= s.cacheTTL {
			if s.cache.CompareAndDelete(key, value) {
				s.cacheSize.Add(-1)
				removed++
			}
		}
		return true
	})
	metrics.SetAuthCacheEntries(int(s.cacheSize.Load()))
	return removed
}

// CacheSize returns the current number of cached identities.
func (s *AuthService) CacheSize() int {
	return int(s.cacheSize.Load())
}

// resolveFull verifies the credential and assembles a complete identity.
// Verification and tenant-resolution errors abort the resolution; the
// permission, city and membership sub-fetches degrade to empty values
// instead, since stale-but-present partial data beats a hard denial.
func (s *AuthService) resolveFull(ctx context.Context, rawToken, fp string) (*domain.Identity, error) {
	start := time.Now()

	raw, err := s.verify(ctx, rawToken)
	if err != nil {
		s.logger.Warn("token verification failed",
			slog.String("token_hash", fp),
			slog.String("token_preview", preview(rawToken)),
		)
		return nil, domain.ErrUnauthenticated
	}

	permissions := s.fetchPermissions(ctx, raw.ID)
	cities := s.fetchCities(ctx, raw.ID)
	membershipRows := s.fetchMemberships(ctx, raw.ID)

	tenantRole := ""
	for _, m := range membershipRows {
		if m.Role != "" {
			tenantRole = m.Role
		}
		if m.Role == "admin" || m.Role == "owner" {
			tenantRole = m.Role
			break
		}
	}

	_, allowListed := s.admins[strings.ToLower(raw.Email)]
	isAdmin := allowListed || raw.Role == "admin" || tenantRole == "admin" || tenantRole == "owner"

	tenantID, err := s.resolver.ResolveTenantID(ctx, rawToken, raw.ID, raw.Email)
	if err != nil {
		s.logger.Warn("tenant resolution failed",
			slog.String("user_id", raw.ID),
			slog.String("error", err.Error()),
		)
		return nil, domain.ErrUnauthenticated
	}

	// Keep the provider's metadata in sync for the next login; never
	// awaited on the request path.
	if tenantID != "" && tenantID != raw.TenantID {
		go s.metaUpdate(raw.ID, tenantID)
	}

	identity := &domain.Identity{
		ID:          raw.ID,
		Email:       raw.Email,
		TenantID:    tenantID,
		IsAdmin:     isAdmin,
		Permissions: permissions,
		Cities:      cities,
	}

	s.logger.Info("authenticated",
		slog.String("user_id", raw.ID),
		slog.String("email", raw.Email),
		slog.String("tenant_id", tenantID),
		slog.Bool("is_admin", isAdmin),
		slog.Int("permissions", len(permissions)),
		slog.Int("cities", len(cities)),
		slog.String("source", string(raw.Source)),
		slog.Duration("duration", time.Since(start)),
	)
	return identity, nil
}

// verify tries the local HS256 path first and falls back to the external
// identity provider, normalizing both into one RawIdentity shape.
func (s *AuthService) verify(ctx context.Context, rawToken string) (*domain.RawIdentity, error) {
	if claims, err := s.tokens.ValidateToken(rawToken); err == nil {
		return &domain.RawIdentity{
			ID:       claims.UserID,
			Email:    claims.Email,
			Role:     claims.Role,
			TenantID: claims.TenantID,
			Source:   domain.SourceLocal,
		}, nil
	}
	return s.provider.Verify(ctx, rawToken)
}

func (s *AuthService) fetchPermissions(ctx context.Context, userID string) []domain.Permission {
	var permissions []domain.Permission
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		permissions, err = s.perms.ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		s.logger.Warn("permission fetch degraded to empty set",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return []domain.Permission{}
	}
	return permissions
}

func (s *AuthService) fetchCities(ctx context.Context, userID string) []string {
	var raw []string
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.users.ListCities(ctx, userID)
		return err
	})
	if err != nil {
		s.logger.Warn("city fetch degraded to empty set",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return []string{}
	}
	cities := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, city := range raw {
		normalized := strings.ToLower(strings.TrimSpace(city))
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		cities = append(cities, normalized)
	}
	return cities
}

func (s *AuthService) fetchMemberships(ctx context.Context, userID string) []domain.TenantMembership {
	var rows []domain.TenantMembership
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		rows, err = s.memberships.ListActiveByUser(ctx, userID)
		return err
	})
	if err != nil {
		s.logger.Warn("membership fetch degraded to empty set",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return rows
}

func (s *AuthService) updateTenantMetadata(userID, tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.resolver.UpdateUserTenantMetadata(ctx, userID, tenantID); err != nil {
		s.logger.Warn("tenant metadata update dropped",
			slog.String("user_id", userID),
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AuthService) deleteEntry(fp string) {
	if _, loaded := s.cache.LoadAndDelete(fp); loaded {
		s.cacheSize.Add(-1)
	}
}

func preview(token string) string {
	if len(token) <= tokenPreviewLen {
		return token
	}
	return token[:tokenPreviewLen] + "..."
}
