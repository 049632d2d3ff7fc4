package service

import (
	"crypto/sha256"

	"github.com/mir00r/grace-cache/internal/domain"
)

// KeyBuilder derives cache keys from path+query and the effective host.
type KeyBuilder struct {
	// fallback is hashed in place of an absent host
	fallback string
}

// NewKeyBuilder creates a key builder. identity stands in for the host on
// requests that carry none.
func NewKeyBuilder(identity string) *KeyBuilder {
	return &KeyBuilder{fallback: identity}
}

// Build returns the key for rc. It is a pure function of the request URI and
// rc.Host, so it must run after classification.
func (kb *KeyBuilder) Build(rc *domain.RequestContext) domain.CacheKey {
	return kb.BuildFor(rc.RequestURI(), rc.Host)
}

// BuildFor returns the key for a request URI and host
func (kb *KeyBuilder) BuildFor(requestURI, host string) domain.CacheKey {
	h := sha256.New()
	h.Write([]byte(requestURI))
	// NUL never appears in a request line, so the two fields cannot run together
	h.Write([]byte{0})
	if host != "" {
		h.Write([]byte(host))
	} else {
		h.Write([]byte(kb.fallback))
	}

	var key domain.CacheKey
	copy(key[:], h.Sum(nil))
	return key
}
