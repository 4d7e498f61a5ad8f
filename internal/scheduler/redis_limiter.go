package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisLimiter shares the account limit between every API process that points
// at the same Redis. A slot is an INCR on the account counter; the counter's
// TTL is refreshed on every grant so slots leaked by a crashed process expire.
type RedisLimiter struct {
	rdb       *redis.Client
	limit     int64
	ttl       time.Duration
	pollEvery time.Duration
	prefix    string
	logger    zerolog.Logger
}

// RedisLimiterOptions tunes the limiter; zero values pick defaults.
type RedisLimiterOptions struct {
	Limit     int
	TTL       time.Duration
	PollEvery time.Duration
	KeyPrefix string
	Logger    zerolog.Logger
}

// NewRedisLimiter builds a limiter on an existing client.
func NewRedisLimiter(rdb *redis.Client, opts RedisLimiterOptions) *RedisLimiter {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = 200 * time.Millisecond
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "enhance:slots"
	}
	return &RedisLimiter{
		rdb:       rdb,
		limit:     int64(opts.Limit),
		ttl:       opts.TTL,
		pollEvery: opts.PollEvery,
		prefix:    opts.KeyPrefix,
		logger:    opts.Logger,
	}
}

func (l *RedisLimiter) key(accountID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, accountID)
}

// Acquire polls until a slot is free or ctx ends. The wait grows up to eight
// poll intervals while the account stays saturated.
func (l *RedisLimiter) Acquire(ctx context.Context, accountID string) (func(), error) {
	key := l.key(accountID)
	wait := l.pollEvery
	for {
		ok, err := l.tryAcquire(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("redis limiter: %w", err)
		}
		if ok {
			var once sync.Once
			return func() { once.Do(func() { l.release(key) }) }, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < 8*l.pollEvery {
			wait *= 2
		}
	}
}

func (l *RedisLimiter) tryAcquire(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n <= l.limit {
		if err := l.rdb.Expire(ctx, key, l.ttl).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("redis limiter: refresh ttl failed")
		}
		return true, nil
	}
	if err := l.rdb.Decr(ctx, key).Err(); err != nil {
		return false, err
	}
	return false, nil
}

// release runs on its own context: the caller's may already be cancelled and
// the slot must still be returned.
func (l *RedisLimiter) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := l.rdb.Decr(ctx, key).Result()
	if err != nil {
		l.logger.Error().Err(err).Str("key", key).Msg("redis limiter: release failed")
		return
	}
	if n < 0 {
		// The counter expired while the slot was held.
		if err := l.rdb.Set(ctx, key, 0, l.ttl).Err(); err != nil {
			l.logger.Error().Err(err).Str("key", key).Msg("redis limiter: reset counter failed")
		}
	}
}

var _ Limiter = (*RedisLimiter)(nil)
