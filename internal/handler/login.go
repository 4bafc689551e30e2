package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/security/audit"
	"github.com/propertyflow/backend/internal/security/auth"
	"github.com/propertyflow/backend/internal/security/middleware"
	"github.com/propertyflow/backend/internal/security/ratelimit"
)

// loginAttempts per IP inside loginWindow before the endpoint backs off.
const (
	loginAttempts = 10
	loginWindow   = time.Minute
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse contains the issued token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	TenantID  string    `json:"tenantId"`
	UserID    string    `json:"userId"`
}

// LoginHandler authenticates local users with email and password
type LoginHandler struct {
	tokenManager *auth.TokenManager
	users        domain.UserRepository
	limiter      *ratelimit.Limiter
	audit        *audit.Logger
	logger       *slog.Logger
}

// NewLoginHandler creates a new login handler
func NewLoginHandler(tm *auth.TokenManager, users domain.UserRepository, limiter *ratelimit.Limiter, auditLog *audit.Logger, logger *slog.Logger) *LoginHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginHandler{
		tokenManager: tm,
		users:        users,
		limiter:      limiter,
		audit:        auditLog,
		logger:       logger,
	}
}

// ServeHTTP handles POST /api/login requests
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := middleware.ClientIP(r)
	if !h.limiter.AllowStrict(ip, loginAttempts, loginWindow) {
		h.logger.Warn("login rate limited", slog.String("ip", ip))
		http.Error(w, `{"error":"too many attempts"}`, http.StatusTooManyRequests)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, `{"error":"email and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("login lookup failed", slog.String("error", err.Error()))
		}
		// Same response for unknown email and bad password, to prevent
		// user enumeration.
		h.audit.LogLogin(r.Context(), "", "", "failed")
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.audit.LogLogin(r.Context(), user.TenantID, user.ID, "failed")
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	expiresIn := 24 * time.Hour
	token, err := h.tokenManager.GenerateToken(user.ID, user.Email, user.TenantID, user.Role, expiresIn)
	if err != nil {
		h.logger.Error("failed to generate token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		http.Error(w, `{"error":"token generation failed"}`, http.StatusInternalServerError)
		return
	}

	h.audit.LogLogin(r.Context(), user.TenantID, user.ID, "succeeded")
	h.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", user.TenantID),
	)

	response := LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(expiresIn),
		TenantID:  user.TenantID,
		UserID:    user.ID,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
