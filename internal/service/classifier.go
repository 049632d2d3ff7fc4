package service

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/idna"

	"github.com/mir00r/grace-cache/internal/domain"
)

// MethodPurge invalidates the cached object for a URL
const MethodPurge = "PURGE"

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodPost:    true,
	http.MethodTrace:   true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
}

// ClassifierConfig holds what the classifier needs from configuration
type ClassifierConfig struct {
	CanonicalHosts []string
	DefaultHost    string
	PurgeACL       string
}

// Classifier decides what to do with each inbound request.
type Classifier struct {
	canonical   map[string]bool
	defaultHost string
	purgeACL    string
	matcher     *AccessMatcher
}

// NewClassifier creates a classifier
func NewClassifier(cfg ClassifierConfig, matcher *AccessMatcher) *Classifier {
	canonical := make(map[string]bool, len(cfg.CanonicalHosts))
	for _, h := range cfg.CanonicalHosts {
		canonical[CanonicalHost(h)] = true
	}
	return &Classifier{
		canonical:   canonical,
		defaultHost: cfg.DefaultHost,
		purgeACL:    cfg.PurgeACL,
		matcher:     matcher,
	}
}

// CanonicalHost lowercases host, drops any port and converts IDNs to their
// ASCII form.
func CanonicalHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}

// IsCanonical reports whether host is one of the configured canonical hosts
func (c *Classifier) IsCanonical(host string) bool {
	return c.canonical[CanonicalHost(host)]
}

// Classify mutates rc (host normalisation, cookie removal) and returns the
// disposition. Nothing may read the original headers afterwards.
func (c *Classifier) Classify(rc *domain.RequestContext) domain.Disposition {
	// Canonical and non-canonical hosts both collapse onto the default host.
	if c.IsCanonical(rc.Host) {
		rc.Host = c.defaultHost
	} else {
		rc.Host = c.defaultHost
	}

	if rc.Method == MethodPurge {
		if !c.matcher.Matches(rc.ClientIdentity, c.purgeACL) {
			return domain.Reject(http.StatusForbidden, "")
		}
		return domain.Disposition{Kind: domain.DispositionPurge}
	}

	if !allowedMethods[rc.Method] {
		return domain.Reject(http.StatusBadGateway, "non-valid method")
	}

	if rc.Method != http.MethodGet && rc.Method != http.MethodHead {
		return domain.Disposition{Kind: domain.DispositionPassThrough}
	}

	rc.Header.Del("Cookie")
	rc.Grace = domain.GraceNone
	return domain.Disposition{Kind: domain.DispositionLookup}
}
