// Package storage implements the object stores behind the cache engine.
//
// MemoryStore is a bounded LRU. LevelDBStore and RedisStore persist entries
// as JSON and are normally fronted by a MemoryStore through TieredStore.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mir00r/grace-cache/internal/config"
	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// Store is a domain.Store that owns resources
type Store interface {
	domain.Store
	Len() int
	Close() error
}

// Sweeper is a store that can drop expired entries in bulk. Stores only
// expire lazily on Get otherwise.
type Sweeper interface {
	Sweep() (int, error)
}

// RunSweeper sweeps s every interval until ctx is done
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}
	log = log.StorageLogger("sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep()
			if err != nil {
				log.WithError(err).Warn("Sweep failed")
				continue
			}
			if removed > 0 {
				log.WithField("removed", removed).Debug("Swept expired entries")
			}
		}
	}
}

// New builds the store selected by cfg.Driver. Persistent drivers are
// fronted by an in-memory tier.
func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (Store, error) {
	memory := NewMemoryStore(cfg.MaxEntries)

	switch cfg.Driver {
	case "", "memory":
		return memory, nil

	case "leveldb":
		disk, err := OpenLevelDB(cfg.LevelDB.Path, log)
		if err != nil {
			return nil, err
		}
		return NewTieredStore(memory, disk, log), nil

	case "redis":
		shared, err := NewRedisStore(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return NewTieredStore(memory, shared, log), nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func encodeEntry(entry *domain.CacheEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*domain.CacheEntry, error) {
	entry := &domain.CacheEntry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return entry, nil
}

// expired reports whether entry is past its Expiry at now
func expired(entry *domain.CacheEntry, now time.Time) bool {
	return !now.Before(entry.Expiry())
}
