package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reconai/auditkit/cache"
	"github.com/reconai/auditkit/distlock"
	"github.com/rs/zerolog/log"
)

const (
	sharedKeyPrefix      = "auditkit:credential"
	defaultSharedTTL     = 5 * time.Minute
	defaultLockTTL       = 15 * time.Second
	defaultLockWait      = 10 * time.Second
	defaultTemplateLabel = "default"
)

// Shared is a TokenSource backed by Redis so that a fleet of processes reuse
// one token per template. Refreshes run under a distributed lock.
type Shared struct {
	source  TokenSource
	store   *cache.Store[Token]
	locker  *distlock.Locker
	lockTTL time.Duration
	wait    time.Duration
	buffer  time.Duration
	now     func() time.Time
}

var _ TokenSource = (*Shared)(nil)

type SharedOption func(*Shared)

func WithLockTimings(ttl, wait time.Duration) SharedOption {
	return func(s *Shared) {
		s.lockTTL = ttl
		s.wait = wait
	}
}

func WithSharedExpiryBuffer(buffer time.Duration) SharedOption {
	return func(s *Shared) {
		s.buffer = buffer
	}
}

func WithSharedClock(now func() time.Time) SharedOption {
	return func(s *Shared) {
		s.now = now
	}
}

func NewShared(source TokenSource, client redis.UniversalClient, opts ...SharedOption) *Shared {
	shared := &Shared{
		source:  source,
		store:   cache.New[Token](client, sharedKeyPrefix+":token", defaultSharedTTL),
		locker:  distlock.New(client, distlock.WithPrefix(sharedKeyPrefix+":lock")),
		lockTTL: defaultLockTTL,
		wait:    defaultLockWait,
		buffer:  defaultExpiryBuffer,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(shared)
	}

	return shared
}

func (s *Shared) FetchToken(ctx context.Context, template string) (Token, error) {
	if s.source == nil {
		return Token{}, ErrNoSource
	}

	key := template
	if key == "" {
		key = defaultTemplateLabel
	}

	if token, ok := s.lookup(ctx, key); ok {
		return token, nil
	}

	var token Token

	err := s.locker.WaitWithLock(ctx, key, s.lockTTL, s.wait, func(ctx context.Context) error {
		if cached, ok := s.lookup(ctx, key); ok {
			token = cached

			return nil
		}

		fetched, err := s.source.FetchToken(ctx, template)
		if err != nil {
			return err //nolint:wrapcheck
		}

		s.save(ctx, key, fetched)
		token = fetched

		return nil
	})
	if err != nil {
		if errors.Is(err, distlock.ErrLockNotObtained) {
			return Token{}, fmt.Errorf("%w: refresh lock for %q is busy", ErrTokenRequestFailed, key)
		}

		return Token{}, err
	}

	return token, nil
}

func (s *Shared) lookup(ctx context.Context, key string) (Token, bool) {
	token, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrKeyNotFound) {
			log.Warn().Err(err).Str("template", key).Msg("Shared token lookup failed")
		}

		return Token{}, false
	}

	if !token.Valid(s.now(), s.buffer) {
		return Token{}, false
	}

	return *token, true
}

func (s *Shared) save(ctx context.Context, key string, token Token) {
	ttl := defaultSharedTTL
	if !token.ExpiresAt.IsZero() {
		ttl = token.ExpiresAt.Sub(s.now()) - s.buffer
	}

	if ttl <= 0 {
		return
	}

	if err := s.store.SetWithTTL(ctx, key, &token, ttl); err != nil {
		log.Warn().Err(err).Str("template", key).Msg("Shared token could not be stored")
	}
}
