// Package cache stores JSON values in Redis under a key prefix, each entry
// with its own expiry.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL     = time.Hour
	scanBatchCount = 100
)

var (
	ErrKeyNotFound     = errors.New("cache: key not found")
	ErrInvalidTTL      = errors.New("cache: ttl must be positive")
	ErrCacheMarshal    = errors.New("cache: failed to marshal value")
	ErrCacheUnmarshal  = errors.New("cache: failed to unmarshal value")
	ErrCacheGet        = errors.New("cache: failed to get")
	ErrCacheSet        = errors.New("cache: failed to set")
	ErrCacheDelete     = errors.New("cache: failed to delete")
	ErrCacheInvalidate = errors.New("cache: failed to invalidate")
)

type Store[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New returns a store whose keys live under prefix. A zero ttl defaults to
// one hour.
func New[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *Store[V] {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Store[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *Store[V]) key(key string) string {
	return s.prefix + ":" + key
}

func (s *Store[V]) Get(ctx context.Context, key string) (*V, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrCacheGet, err)
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnmarshal, err)
	}

	return &value, nil
}

func (s *Store[V]) Set(ctx context.Context, key string, value *V) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *Store[V]) SetWithTTL(ctx context.Context, key string, value *V, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheMarshal, err)
	}

	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSet, err)
	}

	return nil
}

// TTL returns the remaining lifetime of key, or ErrKeyNotFound.
func (s *Store[V]) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCacheGet, err)
	}

	if ttl < 0 {
		return 0, ErrKeyNotFound
	}

	return ttl, nil
}

func (s *Store[V]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheDelete, err)
	}

	return nil
}

// Invalidate removes every key under the store prefix.
func (s *Store[V]) Invalidate(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", scanBatchCount).Iterator()

	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheInvalidate, err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheInvalidate, err)
	}

	return nil
}
