/*
Package domain contains the core entities and collaborator interfaces of the
caching proxy.

Backend Entity:
Backend is an origin server. It owns a HealthWindow, the ring buffer of its
last W probe outcomes. The window is written only by the health monitor and
read on every request path; reads load an atomically published snapshot and
never wait for a writer.

	backend := domain.NewBackend("origin", "10.0.0.5", 8080, probe)
	backend.Window().Record(true)
	if backend.IsHealthy() {
		// at least T of the last W probes passed
	}

Cache Entries:
CacheEntry is shared by every request that hits the same CacheKey. Freshness
is derived from a single observed instant:

	remaining := entry.Remaining(now)   // ttl-remaining
	fresh := remaining > 0
	servable := remaining+entry.Grace > 0

Request Flow:
A RequestContext is created at request entry and mutated only by the request
that owns it. The classifier turns it into a Disposition, the freshness
policy turns a lookup into a FreshnessDecision, and the backend response
policy turns an OriginResponse into a StoragePolicy.

Collaborators:
Store, Prober, Origin and ErrorPageLoader are implemented outside the
decision engine (internal/storage and internal/infrastructure).
*/
package domain
