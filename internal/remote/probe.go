package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds the liveness check
const DefaultProbeTimeout = 3 * time.Second

// HealthProbe issues HEAD {baseURL}/api/health. Any response before the
// timeout counts as reachable; only transport failures fail the probe.
type HealthProbe struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHealthProbe creates a probe against the service at baseURL
func NewHealthProbe(baseURL string, timeout time.Duration) *HealthProbe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HealthProbe{
		url:        strings.TrimRight(baseURL, "/") + "/api/health",
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Probe implements Prober
func (p *HealthProbe) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp.Body.Close()
	return nil
}
