package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

var entryPrefix = []byte("e:")

// LevelDBStore persists entries on local disk.
type LevelDBStore struct {
	db     *leveldb.DB
	logger *logger.Logger
	now    func() time.Time
}

// OpenLevelDB opens or creates the database at path
func OpenLevelDB(path string, log *logger.Logger) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	log.StorageLogger("leveldb").WithField("path", path).Info("Opened on-disk store")
	return &LevelDBStore{
		db:     db,
		logger: log.StorageLogger("leveldb"),
		now:    time.Now,
	}, nil
}

func entryKey(key domain.CacheKey) []byte {
	return append(append([]byte{}, entryPrefix...), key[:]...)
}

// Get returns the entry for key, or nil. Expired entries are deleted.
func (s *LevelDBStore) Get(_ context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	data, err := s.db.Get(entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		s.logger.WithError(err).WithField("key", key.String()).Warn("Dropping corrupt entry")
		_ = s.db.Delete(entryKey(key), nil)
		return nil, nil
	}
	if expired(entry, s.now()) {
		_ = s.db.Delete(entryKey(key), nil)
		return nil, nil
	}
	return entry, nil
}

// Put writes entry under key
func (s *LevelDBStore) Put(_ context.Context, key domain.CacheKey, entry *domain.CacheEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := s.db.Put(entryKey(key), data, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Purge deletes key
func (s *LevelDBStore) Purge(_ context.Context, key domain.CacheKey) error {
	if err := s.db.Delete(entryKey(key), nil); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Sweep deletes every expired entry and returns how many were removed
func (s *LevelDBStore) Sweep() (int, error) {
	now := s.now()
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	for it.Next() {
		entry, err := decodeEntry(it.Value())
		if err != nil || expired(entry, now) {
			batch.Delete(append([]byte{}, it.Key()...))
		}
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, fmt.Errorf("leveldb sweep: %w", err)
	}
	return batch.Len(), nil
}

// Len counts stored entries
func (s *LevelDBStore) Len() int {
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n
}

// Close closes the database
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
