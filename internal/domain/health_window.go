package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// WindowSnapshot is an immutable view of a HealthWindow.
type WindowSnapshot struct {
	Samples    []bool    `json:"samples"` // oldest first
	Good       int       `json:"good"`
	Size       int       `json:"size"`
	Threshold  int       `json:"threshold"`
	Healthy    bool      `json:"healthy"`
	Total      uint64    `json:"total_probes"`
	LastUpdate time.Time `json:"last_update"`
}

// HealthWindow keeps the last Size probe outcomes of one backend.
//
// Writers are serialised by mu. Every write publishes a fresh snapshot through
// an atomic pointer, so readers never take the lock.
type HealthWindow struct {
	mu        sync.Mutex
	size      int
	threshold int
	ring      []bool
	next      int
	count     int
	total     uint64

	snap atomic.Pointer[WindowSnapshot]
}

// NewHealthWindow creates an empty window. An empty window is unhealthy.
func NewHealthWindow(size, threshold int) *HealthWindow {
	if threshold < 1 {
		threshold = 1
	}
	if size < threshold {
		size = threshold
	}
	w := &HealthWindow{
		size:      size,
		threshold: threshold,
		ring:      make([]bool, size),
	}
	w.snap.Store(&WindowSnapshot{Size: size, Threshold: threshold, Samples: []bool{}})
	return w
}

// Record appends an outcome, evicting the oldest one once the window is
// full, and reports the health state before and after the write.
func (w *HealthWindow) Record(outcome bool) (was, now bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	was = w.snap.Load().Healthy

	w.ring[w.next] = outcome
	w.next = (w.next + 1) % w.size
	if w.count < w.size {
		w.count++
	}
	w.total++

	snap := w.buildSnapshot()
	w.snap.Store(snap)
	return was, snap.Healthy
}

func (w *HealthWindow) buildSnapshot() *WindowSnapshot {
	samples := make([]bool, 0, w.count)
	start := (w.next - w.count + w.size) % w.size
	good := 0
	for i := 0; i < w.count; i++ {
		v := w.ring[(start+i)%w.size]
		if v {
			good++
		}
		samples = append(samples, v)
	}
	return &WindowSnapshot{
		Samples:    samples,
		Good:       good,
		Size:       w.size,
		Threshold:  w.threshold,
		Healthy:    good >= w.threshold,
		Total:      w.total,
		LastUpdate: time.Now(),
	}
}

// Healthy reports whether at least threshold of the retained outcomes passed.
func (w *HealthWindow) Healthy() bool {
	return w.snap.Load().Healthy
}

// Snapshot returns the last published snapshot
func (w *HealthWindow) Snapshot() WindowSnapshot {
	s := w.snap.Load()
	out := *s
	out.Samples = append([]bool(nil), s.Samples...)
	return out
}
