package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mir00r/grace-cache/internal/config"
	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// RedisStore shares entries between cache nodes. Keys expire in Redis at
// the entry's Expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *logger.Logger
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.StorageLogger("redis").WithField("addr", cfg.Addr).Info("Connected to shared store")
	return NewRedisStoreWithClient(client, cfg.Prefix, log), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string, log *logger.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: log.StorageLogger("redis"),
		now:    time.Now,
	}
}

func (s *RedisStore) redisKey(key domain.CacheKey) string {
	return s.prefix + key.String()
}

// Get returns the entry for key, or nil
func (s *RedisStore) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		s.logger.WithError(err).WithField("key", key.String()).Warn("Dropping corrupt entry")
		_ = s.client.Del(ctx, s.redisKey(key)).Err()
		return nil, nil
	}
	if expired(entry, s.now()) {
		return nil, nil
	}
	return entry, nil
}

// Put stores entry with a key expiry at entry.Expiry
func (s *RedisStore) Put(ctx context.Context, key domain.CacheKey, entry *domain.CacheEntry) error {
	lifetime := entry.Expiry().Sub(s.now())
	if lifetime <= 0 {
		return nil
	}

	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), data, lifetime).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Purge deletes key
func (s *RedisStore) Purge(ctx context.Context, key domain.CacheKey) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Len counts keys under the store prefix
func (s *RedisStore) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to count keys")
	}
	return n
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
