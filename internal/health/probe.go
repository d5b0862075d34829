package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober checks whether a bot process answers on its assigned port.
type Prober interface {
	Probe(ctx context.Context, port int) error
}

// HTTPProber probes the bot's REST API ping endpoint. Pool containers
// publish bot ports on the local host.
type HTTPProber struct {
	Host   string
	client *http.Client
}

// NewHTTPProber creates a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		Host:   "127.0.0.1",
		client: &http.Client{Timeout: timeout},
	}
}

// Probe sends GET /api/v1/ping and accepts any 2xx answer.
func (p *HTTPProber) Probe(ctx context.Context, port int) error {
	url := fmt.Sprintf("http://%s:%d/api/v1/ping", p.Host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("liveness probe on port %d: %w", port, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("liveness probe on port %d: status %d", port, resp.StatusCode)
	}
	return nil
}
