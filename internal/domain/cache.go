package domain

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// CacheKey identifies an object in the store. Two keys are equal iff the
// objects are the same.
type CacheKey [32]byte

// String returns the hex form of the key
func (k CacheKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler
func (k CacheKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *CacheKey) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(k) {
		return fmt.Errorf("cache key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return nil
}

// ParseCacheKey decodes the hex form produced by CacheKey.String
func ParseCacheKey(s string) (CacheKey, error) {
	var k CacheKey
	err := k.UnmarshalText([]byte(s))
	return k, err
}

// CacheEntry is a stored origin response.
//
// Entries are shared between concurrent requests for the same key and must
// be handled by pointer. Only the hit counter is mutated after creation.
type CacheEntry struct {
	Key      CacheKey      `json:"key"`
	Status   int           `json:"status"`
	Header   http.Header   `json:"header"`
	Body     []byte        `json:"body"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
	Grace    time.Duration `json:"grace"`
	// Retain keeps a stale entry in the store for at least this long past
	// its ttl, even when Grace is shorter.
	Retain time.Duration `json:"retain,omitempty"`

	hits atomic.Int64
}

// NewCacheEntry builds an entry stored at now
func NewCacheEntry(key CacheKey, resp *OriginResponse, ttl, grace time.Duration, now time.Time) *CacheEntry {
	return &CacheEntry{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header.Clone(),
		Body:     resp.Body,
		StoredAt: now,
		TTL:      ttl,
		Grace:    grace,
	}
}

// Age returns how long ago the entry was stored
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Remaining returns ttl-remaining at now. Negative once the entry is stale.
func (e *CacheEntry) Remaining(now time.Time) time.Duration {
	return e.TTL - e.Age(now)
}

// Expiry returns the instant after which the entry cannot be served at all
func (e *CacheEntry) Expiry() time.Time {
	stale := e.Grace
	if e.Retain > stale {
		stale = e.Retain
	}
	return e.StoredAt.Add(e.TTL + stale)
}

// RecordHit increments the hit counter and returns the new value
func (e *CacheEntry) RecordHit() int64 {
	return e.hits.Add(1)
}

// Hits returns the hit counter
func (e *CacheEntry) Hits() int64 {
	return e.hits.Load()
}
