package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Tracker is the media provider's cost tracker. The gateway's only
// contract with it is "invoke refresh, await completion or failure".
type Tracker interface {
	Refresh(ctx context.Context, provider string) error
}

// HTTPTracker forces a usage refresh by calling the provider tracker's
// refresh endpoint.
type HTTPTracker struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTracker(baseURL string) *HTTPTracker {
	return &HTTPTracker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *HTTPTracker) Refresh(ctx context.Context, provider string) error {
	if t.baseURL == "" {
		return fmt.Errorf("media tracker refresh URL not configured")
	}

	url := fmt.Sprintf("%s/refresh?provider=%s", t.baseURL, provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("refresh returned status %d", resp.StatusCode)
	}
	return nil
}
