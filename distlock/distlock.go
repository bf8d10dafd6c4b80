// Package distlock serializes work across processes with Redis locks.
package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultRetryInterval = 50 * time.Millisecond

var ErrLockNotObtained = redislock.ErrNotObtained

type Locker struct {
	client        *redislock.Client
	prefix        string
	retryInterval time.Duration
}

type Option func(*Locker)

// WithPrefix namespaces every lock key.
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(l *Locker) {
		l.retryInterval = interval
	}
}

func New(redisClient redis.UniversalClient, opts ...Option) *Locker {
	locker := &Locker{
		client:        redislock.New(redisClient),
		prefix:        "",
		retryInterval: defaultRetryInterval,
	}

	for _, opt := range opts {
		opt(locker)
	}

	return locker
}

func (l *Locker) key(key string) string {
	if l.prefix == "" {
		return key
	}

	return l.prefix + ":" + key
}

// WithLock runs handler while holding key. It fails fast with
// ErrLockNotObtained when another holder has it.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, handler func(context.Context) error) error {
	return l.run(ctx, key, ttl, nil, handler)
}

// WaitWithLock retries until the lock is free or wait elapses.
func (l *Locker) WaitWithLock(
	ctx context.Context,
	key string,
	ttl time.Duration,
	wait time.Duration,
	handler func(context.Context) error,
) error {
	attempts := int(wait / l.retryInterval)
	if attempts < 1 {
		attempts = 1
	}

	//nolint:exhaustruct
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.retryInterval), attempts),
	}

	return l.run(ctx, key, ttl, opts, handler)
}

// TryWithLock is WithLock that treats a held lock as a no-op.
func (l *Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, handler func(context.Context) error) error {
	err := l.WithLock(ctx, key, ttl, handler)
	if errors.Is(err, ErrLockNotObtained) {
		log.Debug().
			Str("key", l.key(key)).
			Msg("Lock is held by another instance, skipping")

		return nil
	}

	return err
}

func (l *Locker) run(
	ctx context.Context,
	key string,
	ttl time.Duration,
	opts *redislock.Options,
	handler func(context.Context) error,
) error {
	fullKey := l.key(key)

	lock, err := l.client.Obtain(ctx, fullKey, ttl, opts)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrLockNotObtained
		}

		return fmt.Errorf("distlock: obtain %s: %w", fullKey, err)
	}

	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Warn().
				Err(releaseErr).
				Str("key", fullKey).
				Msg("Failed to release distributed lock")
		}
	}()

	return handler(ctx)
}
