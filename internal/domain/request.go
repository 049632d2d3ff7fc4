package domain

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Grace annotations carried from the request onto the response
const (
	GraceNone  = "none"
	GraceUsing = "using grace"
)

// RequestContext is the per-request state owned by a single processing path.
type RequestContext struct {
	RequestID      string
	Method         string
	URL            *url.URL
	Host           string // effective host, rewritten by the classifier
	ClientIdentity string
	Header         http.Header
	Body           []byte
	Backend        *Backend
	Grace          string
	StartTime      time.Time
}

// NewRequestContext creates a RequestContext from an HTTP request. body is the
// already buffered request body.
func NewRequestContext(r *http.Request, body []byte) *RequestContext {
	u := *r.URL
	return &RequestContext{
		RequestID:      requestID(r),
		Method:         r.Method,
		URL:            &u,
		Host:           r.Host,
		ClientIdentity: clientIdentity(r.RemoteAddr),
		Header:         r.Header.Clone(),
		Body:           body,
		Grace:          GraceNone,
		StartTime:      time.Now(),
	}
}

// RequestURI returns path and query as sent to the origin
func (rc *RequestContext) RequestURI() string {
	return rc.URL.RequestURI()
}

// CloneForRefresh returns a body-less GET copy used by background refreshes.
func (rc *RequestContext) CloneForRefresh() *RequestContext {
	u := *rc.URL
	return &RequestContext{
		RequestID:      rc.RequestID + "-refresh",
		Method:         http.MethodGet,
		URL:            &u,
		Host:           rc.Host,
		ClientIdentity: rc.ClientIdentity,
		Header:         rc.Header.Clone(),
		Backend:        rc.Backend,
		Grace:          GraceNone,
		StartTime:      time.Now(),
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().Format("20060102150405.000")
	}
	return hex.EncodeToString(b[:])
}

func clientIdentity(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// DispositionKind is the classifier's verdict for a request
type DispositionKind int

const (
	DispositionLookup DispositionKind = iota
	DispositionPassThrough
	DispositionPurge
	DispositionReject
)

// String returns the string representation of DispositionKind
func (k DispositionKind) String() string {
	switch k {
	case DispositionLookup:
		return "lookup"
	case DispositionPassThrough:
		return "pass"
	case DispositionPurge:
		return "purge"
	case DispositionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Disposition is returned by the request classifier. Status and Message are
// only set for DispositionReject.
type Disposition struct {
	Kind    DispositionKind
	Status  int
	Message string
}

// Reject builds a rejecting disposition
func Reject(status int, message string) Disposition {
	return Disposition{Kind: DispositionReject, Status: status, Message: message}
}

// Verdict is the freshness policy outcome for a lookup
type Verdict int

const (
	VerdictMiss Verdict = iota
	VerdictDeliver
)

// FreshnessDecision describes how a cached entry may be used.
type FreshnessDecision struct {
	Verdict Verdict
	// Fresh is true when ttl-remaining > 0
	Fresh bool
	// UsingGrace is set when a sick backend forces use of the entry's grace
	UsingGrace bool
	// Refresh asks for a background re-fetch of the entry
	Refresh bool
}

// StoragePolicy is what the backend response policy decided for a fetch.
type StoragePolicy struct {
	Cacheable bool
	TTL       time.Duration
	Grace     time.Duration
	Header    http.Header
}

// RetryDecision is the backend error policy outcome for a failed fetch
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// OriginResponse is a fully read origin response
type OriginResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Response is what the proxy writes back to the client
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}
