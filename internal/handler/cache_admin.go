package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/responsecache"
	"github.com/propertyflow/backend/internal/security/audit"
	"github.com/propertyflow/backend/internal/security/middleware"
	"github.com/propertyflow/backend/internal/service"
)

// CacheAdminHandler exposes cache invalidation and inspection endpoints
type CacheAdminHandler struct {
	auth   *service.AuthService
	cache  *responsecache.TieredCache
	audit  *audit.Logger
	logger *slog.Logger
}

// NewCacheAdminHandler creates a new cache admin handler
func NewCacheAdminHandler(authSvc *service.AuthService, cache *responsecache.TieredCache, auditLog *audit.Logger, logger *slog.Logger) *CacheAdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheAdminHandler{
		auth:   authSvc,
		cache:  cache,
		audit:  auditLog,
		logger: logger,
	}
}

// InvalidateResponse reports how many entries an invalidation removed
type InvalidateResponse struct {
	Success bool   `json:"success"`
	Scope   string `json:"scope"`
	Removed int    `json:"removed"`
}

// Invalidate handles POST /api/invalidate-cache?scope=user|tenant|all.
// Users may always flush their own entries and their own tenant's slice;
// targeting another user or tenant, and global scope, require admin.
func (h *CacheAdminHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "user"
	}

	var removed int
	switch scope {
	case "user":
		userID := identity.ID
		if target := r.URL.Query().Get("user_id"); target != "" && target != identity.ID {
			if !h.requireAdmin(w, r, identity) {
				return
			}
			userID = target
		}
		removed = h.cache.InvalidateUser(userID)
		removed += h.auth.InvalidateUser(userID)
	case "tenant":
		tenantID := identity.TenantID
		if target := r.URL.Query().Get("tenant_id"); target != "" && target != identity.TenantID {
			if !h.requireAdmin(w, r, identity) {
				return
			}
			tenantID = target
		}
		if tenantID == "" {
			http.Error(w, `{"error":"no tenant to invalidate"}`, http.StatusBadRequest)
			return
		}
		removed = h.cache.InvalidateTenant(r.Context(), tenantID)
	case "all":
		if !h.requireAdmin(w, r, identity) {
			return
		}
		removed = h.cache.InvalidateAll(r.Context())
		removed += h.auth.Clear()
	default:
		http.Error(w, `{"error":"scope must be user, tenant or all"}`, http.StatusBadRequest)
		return
	}

	h.audit.LogInvalidation(r.Context(), identity.TenantID, identity.ID, scope, removed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(InvalidateResponse{Success: true, Scope: scope, Removed: removed})
}

// InvalidateAuth handles POST /api/auth/invalidate. Users flush their own
// identity entries; admins may pass user_id to flush someone else's after
// a permission change.
func (h *CacheAdminHandler) InvalidateAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return
	}

	userID := identity.ID
	if target := r.URL.Query().Get("user_id"); target != "" && target != identity.ID {
		if !h.requireAdmin(w, r, identity) {
			return
		}
		userID = target
	}

	removed := h.auth.InvalidateUser(userID)
	h.audit.LogInvalidation(r.Context(), identity.TenantID, identity.ID, "auth", removed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(InvalidateResponse{Success: true, Scope: "auth", Removed: removed})
}

// StatsResponse summarizes cache occupancy for the admin dashboard
type StatsResponse struct {
	L1        responsecache.TierStats `json:"l1"`
	L2        responsecache.TierStats `json:"l2"`
	AuthCache int                     `json:"auth_cache_entries"`
}

// Stats handles GET /api/cache-stats. Admin only; the denial is the same
// generic message every protected endpoint uses.
func (h *CacheAdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return
	}
	if !h.requireAdmin(w, r, identity) {
		return
	}

	l1, l2 := h.cache.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatsResponse{
		L1:        l1,
		L2:        l2,
		AuthCache: h.auth.CacheSize(),
	})
}

func (h *CacheAdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request, identity *domain.Identity) bool {
	if identity.IsAdmin {
		return true
	}
	h.audit.LogDenied(r.Context(), identity.TenantID, identity.ID, "admin access required")
	http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
	return false
}
