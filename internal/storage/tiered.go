package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// ErrStoreClosed is returned by writes issued after Close
var ErrStoreClosed = errors.New("store is closed")

type tierOp struct {
	key   domain.CacheKey
	entry *domain.CacheEntry // nil deletes
	flush bool
	done  chan error
}

// TieredStore fronts a persistent store with a MemoryStore. Reads promote
// second-tier hits into memory. Writes land in memory immediately and reach
// the second tier through a single writer goroutine, in order.
type TieredStore struct {
	memory *MemoryStore
	second Store
	logger *logger.Logger

	// mu guards closed. Senders hold the read lock so Close cannot close
	// ops under them.
	mu     sync.RWMutex
	closed bool
	ops    chan tierOp
	done   chan struct{}
}

// NewTieredStore starts the second-tier writer
func NewTieredStore(memory *MemoryStore, second Store, log *logger.Logger) *TieredStore {
	t := &TieredStore{
		memory: memory,
		second: second,
		logger: log.StorageLogger("tiered"),
		ops:    make(chan tierOp, 1024),
		done:   make(chan struct{}),
	}
	go t.writerLoop()
	return t
}

// Get checks memory first, then the second tier
func (t *TieredStore) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	if entry, _ := t.memory.Get(ctx, key); entry != nil {
		return entry, nil
	}

	entry, err := t.second.Get(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	_ = t.memory.Put(ctx, key, entry)
	return entry, nil
}

// Put stores entry in memory and queues the second-tier write
func (t *TieredStore) Put(ctx context.Context, key domain.CacheKey, entry *domain.CacheEntry) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrStoreClosed
	}

	if err := t.memory.Put(ctx, key, entry); err != nil {
		return err
	}
	t.ops <- tierOp{key: key, entry: entry}
	return nil
}

// Purge removes key from both tiers. It waits for the second tier so a
// queued write cannot resurrect the object.
func (t *TieredStore) Purge(ctx context.Context, key domain.CacheKey) error {
	done, err := t.enqueuePurge(ctx, key)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *TieredStore) enqueuePurge(ctx context.Context, key domain.CacheKey) (chan error, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrStoreClosed
	}

	if err := t.memory.Purge(ctx, key); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	t.ops <- tierOp{key: key, done: done}
	return done, nil
}

func (t *TieredStore) writerLoop() {
	defer close(t.done)

	for op := range t.ops {
		if op.flush {
			op.done <- nil
			continue
		}

		ctx := context.Background()
		var err error
		if op.entry != nil {
			err = t.second.Put(ctx, op.key, op.entry)
		} else {
			err = t.second.Purge(ctx, op.key)
		}

		if err != nil {
			t.logger.WithError(err).WithField("key", op.key.String()).Warn("Second-tier write failed")
		}
		if op.done != nil {
			op.done <- err
		}
	}
}

// Flush waits until every queued write has reached the second tier
func (t *TieredStore) Flush(ctx context.Context) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil
	}
	done := make(chan error, 1)
	select {
	case t.ops <- tierOp{flush: true, done: done}:
		t.mu.RUnlock()
	case <-ctx.Done():
		t.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of objects in the memory tier
func (t *TieredStore) Len() int {
	return t.memory.Len()
}

// Sweep drops expired entries from both tiers
func (t *TieredStore) Sweep() (int, error) {
	removed, _ := t.memory.Sweep()
	sweeper, ok := t.second.(Sweeper)
	if !ok {
		return removed, nil
	}
	n, err := sweeper.Sweep()
	return removed + n, err
}

// Close drains pending writes and closes the second tier. Later writes
// return ErrStoreClosed.
func (t *TieredStore) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.ops)
	t.mu.Unlock()

	<-t.done
	return t.second.Close()
}
