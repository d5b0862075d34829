package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/pkg/api"
)

// PoolClient handles API calls to the orchestrator admin API.
type PoolClient struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewPoolClient creates a new client with the given base URL. adminKey is
// sent on every request and may be empty when the server does not require
// one.
func NewPoolClient(baseURL, adminKey string) *PoolClient {
	return &PoolClient{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// TriggerSweep sends POST /admin/health-check.
func (c *PoolClient) TriggerSweep() (*api.HealthSweepResponse, error) {
	var resp api.HealthSweepResponse
	if err := c.do(http.MethodPost, "/admin/health-check", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerReconcile sends POST /admin/reconcile.
func (c *PoolClient) TriggerReconcile() (*api.ReconcileResponse, error) {
	var resp api.ReconcileResponse
	if err := c.do(http.MethodPost, "/admin/reconcile", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListPools sends GET /tenants/{id}/pools.
func (c *PoolClient) ListPools(tenantID string) (*api.ListPoolsResponse, error) {
	var resp api.ListPoolsResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/tenants/%s/pools", tenantID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve sends GET /bots/{id}/placement.
func (c *PoolClient) Resolve(botID string) (*api.PlacementResponse, error) {
	var resp api.PlacementResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/bots/%s/placement", botID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Release sends DELETE /bots/{id}.
func (c *PoolClient) Release(botID string) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/bots/%s", botID), nil)
}

func (c *PoolClient) do(method, path string, out interface{}) error {
	req, err := http.NewRequest(method, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	if c.AdminKey != "" {
		req.Header.Add("X-Admin-Key", c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
