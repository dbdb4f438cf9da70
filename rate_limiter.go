package phonegate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is the production [RateLimiter]: a fixed-window
// counter per subject backed by atomic INCR, with the window TTL set on
// the first hit. Retry-after is read from the key's remaining TTL.
type RedisRateLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
}

// NewRedisRateLimiter creates a limiter on the given client.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *RedisRateLimiter {
	if prefix == "" {
		prefix = "pgr"
	}
	return &RedisRateLimiter{
		redis:       client,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

func (l *RedisRateLimiter) key(subject string) string {
	return l.prefix + ":" + subject
}

// Check fails closed: once a live window holds maxAttempts, callers are
// rejected with the remaining window as retry-after.
func (l *RedisRateLimiter) Check(ctx context.Context, subject string) error {
	count, err := l.redis.Get(ctx, l.key(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count < int64(l.maxAttempts) {
		return nil
	}

	retryAfter, err := l.redis.PTTL(ctx, l.key(subject)).Result()
	if err != nil || retryAfter <= 0 {
		retryAfter = l.window
	}
	return &RateLimitError{RetryAfter: retryAfter}
}

// Increment records a dispatch attempt. The first hit starts the fixed
// window; later hits never extend it, so the limit holds until the
// window boundary regardless of attempt spacing.
func (l *RedisRateLimiter) Increment(ctx context.Context, subject string) error {
	_, err := l.incrementWithTTL(ctx, subject)
	return err
}

// Reserve counts and gates in one atomic INCR, so concurrent callers
// for the same subject can never all observe a count below the budget.
// Calls past the limit inflate the counter but the TTL is set only on
// the first hit, keeping the window fixed.
func (l *RedisRateLimiter) Reserve(ctx context.Context, subject string) error {
	count, err := l.incrementWithTTL(ctx, subject)
	if err != nil {
		return err
	}
	if count <= int64(l.maxAttempts) {
		return nil
	}

	retryAfter, err := l.redis.PTTL(ctx, l.key(subject)).Result()
	if err != nil || retryAfter <= 0 {
		retryAfter = l.window
	}
	return &RateLimitError{RetryAfter: retryAfter}
}

func (l *RedisRateLimiter) incrementWithTTL(ctx context.Context, subject string) (int64, error) {
	count, err := l.redis.Incr(ctx, l.key(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(subject), l.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return count, nil
}

type rateLimitRecord struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a process-local [RateLimiter] for tests and
// single-instance development. Records are created lazily per subject
// and reset exactly when an attempt arrives after the window boundary.
type MemoryRateLimiter struct {
	mu          sync.Mutex
	records     map[string]*rateLimitRecord
	maxAttempts int
	window      time.Duration

	now func() time.Time
}

// NewMemoryRateLimiter creates an empty in-memory limiter.
func NewMemoryRateLimiter(maxAttempts int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		records:     make(map[string]*rateLimitRecord),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// Check reports a *RateLimitError while a live window is exhausted.
func (l *MemoryRateLimiter) Check(ctx context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[subject]
	if !ok {
		return nil
	}

	now := l.now()
	if !now.Before(record.resetAt) {
		return nil
	}
	if record.count >= l.maxAttempts {
		return &RateLimitError{RetryAfter: record.resetAt.Sub(now)}
	}
	return nil
}

// Increment counts an attempt, starting a fresh window when none is
// live. Counters are never decremented early.
func (l *MemoryRateLimiter) Increment(ctx context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, ok := l.records[subject]
	if !ok || !now.Before(record.resetAt) {
		l.records[subject] = &rateLimitRecord{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return nil
	}

	record.count++
	return nil
}

// Reserve performs the check and the count inside one locked section.
// An exhausted window rejects without counting further.
func (l *MemoryRateLimiter) Reserve(ctx context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	record, ok := l.records[subject]
	if !ok || !now.Before(record.resetAt) {
		l.records[subject] = &rateLimitRecord{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return nil
	}

	if record.count >= l.maxAttempts {
		return &RateLimitError{RetryAfter: record.resetAt.Sub(now)}
	}
	record.count++
	return nil
}

// PurgeExpired drops records whose window elapsed before now.
func (l *MemoryRateLimiter) PurgeExpired(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for subject, record := range l.records {
		if !now.Before(record.resetAt) {
			delete(l.records, subject)
			purged++
		}
	}
	return purged
}
