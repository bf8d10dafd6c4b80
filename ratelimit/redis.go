package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "auditkit:ratelimit"

// fixedWindow counts hits in KEYS[1] and starts the window on the first one.
// A key left without expiry is repaired so a window can never stick.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Redis is a fixed window counter shared by every process using the same
// Redis and prefix.
type Redis struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

var _ Limiter = (*Redis)(nil)

type RedisOption func(*Redis)

// WithPrefix namespaces keys as prefix:key. A trailing colon is dropped.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if trimmed := strings.TrimRight(prefix, ":"); trimmed != "" {
			r.prefix = trimmed
		}
	}
}

func NewRedis(client redis.UniversalClient, limit int, window time.Duration, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, ErrNilRedisClient
	}

	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	if window <= 0 {
		return nil, ErrInvalidWindow
	}

	limiter := &Redis{
		client: client,
		prefix: defaultRedisPrefix,
		limit:  limit,
		window: window,
	}

	for _, opt := range opts {
		opt(limiter)
	}

	return limiter, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	reply, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + ":" + key}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis window %s: %w", key, err)
	}

	if len(reply) != 2 { //nolint:mnd
		return Decision{}, ErrUnexpectedReply
	}

	count, ttl := int(reply[0]), time.Duration(reply[1])*time.Millisecond

	return Decision{
		Allowed:    count <= r.limit,
		Limit:      r.limit,
		Remaining:  max(0, r.limit-count),
		ResetAfter: ttl,
	}, nil
}
