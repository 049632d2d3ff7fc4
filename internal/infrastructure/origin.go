package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/mir00r/grace-cache/internal/domain"
)

// DefaultMaxBodyBytes bounds an origin response body
const DefaultMaxBodyBytes = 64 << 20

// hopHeaders apply to a single connection and are not forwarded
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// HTTPOrigin fetches requests from a backend over HTTP and reads the whole
// response.
type HTTPOrigin struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPOrigin creates an origin client
func NewHTTPOrigin(maxBodyBytes int64) *HTTPOrigin {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPOrigin{
		client: &http.Client{
			Transport: newTransport(32),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch forwards rc to backend. The request carries rc.Host as its Host
// header and the client address in X-Forwarded-For.
func (o *HTTPOrigin) Fetch(ctx context.Context, backend *domain.Backend, rc *domain.RequestContext) (*domain.OriginResponse, error) {
	var body io.Reader
	if len(rc.Body) > 0 {
		body = bytes.NewReader(rc.Body)
	}

	req, err := http.NewRequestWithContext(ctx, rc.Method, backend.URL()+rc.RequestURI(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create origin request: %w", err)
	}

	req.Header = rc.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	removeHopHeaders(req.Header)
	req.Host = rc.Host
	if rc.ClientIdentity != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+rc.ClientIdentity)
		} else {
			req.Header.Set("X-Forwarded-For", rc.ClientIdentity)
		}
	}
	if rc.RequestID != "" {
		req.Header.Set("X-Request-ID", rc.RequestID)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read origin response: %w", err)
	}
	if int64(len(data)) > o.maxBodyBytes {
		return nil, fmt.Errorf("origin response exceeds %d bytes", o.maxBodyBytes)
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Del("Content-Length")

	return &domain.OriginResponse{Status: resp.StatusCode, Header: header, Body: data}, nil
}

// removeHopHeaders deletes hop-by-hop headers, including any named in
// Connection.
func removeHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" && httpguts.ValidHeaderFieldName(name) {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
