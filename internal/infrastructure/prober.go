package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
)

// HTTPProber sends health probes over HTTP.
type HTTPProber struct {
	client *http.Client
	host   string
}

// NewHTTPProber creates a prober. host, when set, is sent as the Host header.
func NewHTTPProber(host string) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Transport: newTransport(2),
			// probes judge the first response, redirects included
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		host: host,
	}
}

// Send issues GET path against backend and returns the status code. Any
// failure to get a response within timeout is an error.
func (p *HTTPProber) Send(ctx context.Context, backend *domain.Backend, path string, timeout time.Duration) (int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend.URL()+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "close")
	if p.host != "" {
		req.Host = p.host
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}
