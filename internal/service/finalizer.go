package service

import (
	"net/http"
	"strconv"

	"github.com/mir00r/grace-cache/internal/domain"
)

// Debug headers set on every delivered response
const (
	HeaderCache     = "X-Cache"
	HeaderCacheHits = "X-Cache-Hits"
	HeaderGrace     = "X-Grace"
)

// transportHeaders identify upstream software and are never forwarded
var transportHeaders = []string{
	"Server",
	"X-Powered-By",
	"Via",
	"X-AspNet-Version",
	"X-Varnish",
}

// Finalize builds the client response from a status, header set and body.
// header is copied before it is modified.
func Finalize(rc *domain.RequestContext, status int, header http.Header, body []byte, hits int64) *domain.Response {
	out := header.Clone()
	if out == nil {
		out = make(http.Header)
	}

	for _, h := range transportHeaders {
		out.Del(h)
	}

	if hits > 0 {
		out.Set(HeaderCache, "HIT")
	} else {
		out.Set(HeaderCache, "MISS")
	}
	out.Set(HeaderCacheHits, strconv.FormatInt(hits, 10))

	grace := rc.Grace
	if grace == "" {
		grace = domain.GraceNone
	}
	out.Set(HeaderGrace, grace)

	if rc.Method == http.MethodHead {
		body = nil
	}

	return &domain.Response{Status: status, Header: out, Body: body}
}

// FinalizeEntry builds the response for a cache hit
func FinalizeEntry(rc *domain.RequestContext, entry *domain.CacheEntry, hits int64) *domain.Response {
	return Finalize(rc, entry.Status, entry.Header, entry.Body, hits)
}

// FinalizeFetch builds the response for a fresh origin fetch
func FinalizeFetch(rc *domain.RequestContext, resp *domain.OriginResponse) *domain.Response {
	return Finalize(rc, resp.Status, resp.Header, resp.Body, 0)
}
