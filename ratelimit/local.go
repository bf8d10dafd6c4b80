package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 10 * time.Minute

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local is a token bucket per key held in process memory. Buckets unused for
// longer than the idle TTL are dropped.
type Local struct {
	rate    rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu          sync.Mutex
	entries     map[string]*localEntry
	lastCleanup time.Time
}

var _ Limiter = (*Local)(nil)

type LocalOption func(*Local)

func WithIdleTTL(ttl time.Duration) LocalOption {
	return func(l *Local) {
		if ttl > 0 {
			l.idleTTL = ttl
		}
	}
}

func WithLocalClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		l.now = now
	}
}

// NewLocal allows limit requests per window per key with bursts up to limit.
func NewLocal(limit int, window time.Duration, opts ...LocalOption) (*Local, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	if window <= 0 {
		return nil, ErrInvalidWindow
	}

	local := &Local{
		rate:        rate.Limit(float64(limit) / window.Seconds()),
		burst:       limit,
		idleTTL:     defaultIdleTTL,
		now:         time.Now,
		mu:          sync.Mutex{},
		entries:     make(map[string]*localEntry),
		lastCleanup: time.Time{},
	}

	for _, opt := range opts {
		opt(local)
	}

	local.lastCleanup = local.now()

	return local, nil
}

func (l *Local) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{limiter: rate.NewLimiter(l.rate, l.burst), lastSeen: now}
		l.entries[key] = entry
	}

	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)

	decision := Decision{
		Allowed:    allowed,
		Limit:      l.burst,
		Remaining:  max(0, int(math.Floor(tokens))),
		ResetAfter: 0,
	}

	if tokens < 1 {
		decision.ResetAfter = time.Duration((1 - tokens) / float64(l.rate) * float64(time.Second))
	}

	l.cleanup(now)

	return decision, nil
}

// Len reports how many keys currently hold a bucket.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func (l *Local) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < l.idleTTL {
		return
	}

	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.entries, key)
		}
	}

	l.lastCleanup = now
}
