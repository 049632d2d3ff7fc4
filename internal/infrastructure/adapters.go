// Package infrastructure contains the outbound adapters of the cache: the
// HTTP prober and origin client used against backends, and the error page
// loader.
//
// The infrastructure layer:
// - Implements the domain's outbound interfaces
// - Handles network and file system access
// - Should not contain caching decisions
package infrastructure

import (
	"net"
	"net/http"
	"time"
)

// userAgent identifies probes sent by the cache
const userAgent = "grace-cache/1.0"

// newTransport returns the transport shared by the prober and origin client.
// Compression is left to the client so bodies are stored as sent.
func newTransport(maxIdlePerHost int) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
		ResponseHeaderTimeout: 60 * time.Second,
	}
}
