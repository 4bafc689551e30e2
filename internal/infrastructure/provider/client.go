package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/propertyflow/backend/internal/domain"
	"github.com/propertyflow/backend/internal/reliability/accessgate"
)

// Client verifies bearer tokens against the external identity provider's
// user endpoint. It carries its own access gate so a slow or failing
// provider cannot exhaust connections held for datastore work.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	gate    *accessgate.Gate
	logger  *slog.Logger
}

// NewClient creates a provider client
func NewClient(baseURL, apiKey string, gate *accessgate.Gate, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		gate:   gate,
		logger: logger,
	}
}

// userResponse is the provider's user endpoint shape; only the fields the
// resolution pipeline needs are decoded.
type userResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	UserMetadata struct {
		TenantID string `json:"tenant_id"`
		Role     string `json:"role"`
	} `json:"user_metadata"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

// Verify exchanges a bearer token for the provider's view of the user.
func (c *Client) Verify(ctx context.Context, rawToken string) (*domain.RawIdentity, error) {
	var raw *domain.RawIdentity
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.fetchUser(ctx, rawToken)
		return err
	})
	return raw, err
}

func (c *Client) fetchUser(ctx context.Context, rawToken string) (*domain.RawIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+rawToken)
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("provider returned unexpected status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if user.ID == "" || user.Email == "" {
		return nil, domain.ErrUnauthenticated
	}

	// The app-level role claim wins over the provider's connection role,
	// which is "authenticated" for every logged-in user.
	role := user.AppMetadata.Role
	if role == "" {
		role = user.UserMetadata.Role
	}

	return &domain.RawIdentity{
		ID:       user.ID,
		Email:    user.Email,
		Role:     role,
		TenantID: user.UserMetadata.TenantID,
		Source:   domain.SourceProvider,
	}, nil
}
