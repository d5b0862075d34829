package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource reads the active bot set from the provisioning authority's
// internal API.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a source against the given authority base URL.
func NewHTTPSource(baseURL string) *HTTPSource {
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &HTTPSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type activeBotsResponse struct {
	Bots []string `json:"bots"`
}

// ActiveBots implements ActiveBotSource via GET /internal/bots/active.
func (s *HTTPSource) ActiveBots(ctx context.Context) (map[string]bool, error) {
	url := fmt.Sprintf("%s/internal/bots/active", s.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provisioning authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provisioning authority returned status %d", resp.StatusCode)
	}

	var body activeBotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode active bot set: %w", err)
	}

	active := make(map[string]bool, len(body.Bots))
	for _, id := range body.Bots {
		active[id] = true
	}
	return active, nil
}
