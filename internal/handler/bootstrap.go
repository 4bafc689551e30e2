package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/security/middleware"
	"github.com/propertyflow/backend/internal/service"
)

// BootstrapHandler serves the aggregated app-initialization payload
type BootstrapHandler struct {
	bootstrap *service.BootstrapService
	logger    *slog.Logger
}

// NewBootstrapHandler creates a new bootstrap handler
func NewBootstrapHandler(bootstrap *service.BootstrapService, logger *slog.Logger) *BootstrapHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BootstrapHandler{
		bootstrap: bootstrap,
		logger:    logger,
	}
}

// ServeHTTP handles GET /api/bootstrap requests. ?force_refresh=true
// bypasses the per-user cache.
func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return
	}

	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	payload, err := h.bootstrap.Assemble(r.Context(), identity, forceRefresh)
	if err != nil {
		if errors.Is(err, domain.ErrCircuitOpen) || errors.Is(err, domain.ErrPoolExhausted) {
			http.Error(w, `{"error":"service temporarily unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("bootstrap assembly failed",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, `{"error":"bootstrap failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode bootstrap response", slog.String("error", err.Error()))
	}
}
