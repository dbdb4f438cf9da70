package phonegate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRedisRateLimiterBoundary(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := NewRedisRateLimiter(rdb, "pgr", 5, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := limiter.Check(ctx, "u1"); err != nil {
			t.Fatalf("Check before attempt %d failed: %v", i, err)
		}
		if err := limiter.Increment(ctx, "u1"); err != nil {
			t.Fatalf("Increment %d failed: %v", i, err)
		}
	}

	err := limiter.Check(ctx, "u1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on attempt 6, got %v", err)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError, got %T", err)
	}
	if rle.RetryAfter <= 0 || rle.RetryAfter > time.Hour {
		t.Fatalf("implausible retry-after %v", rle.RetryAfter)
	}

	// Unrelated subjects remain unaffected.
	if err := limiter.Check(ctx, "u2"); err != nil {
		t.Fatalf("Check for unrelated subject failed: %v", err)
	}
}

func TestRedisRateLimiterReserveBoundary(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := NewRedisRateLimiter(rdb, "pgr", 5, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := limiter.Reserve(ctx, "u1"); err != nil {
			t.Fatalf("Reserve %d failed: %v", i, err)
		}
	}

	err := limiter.Reserve(ctx, "u1")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError on reserve 6, got %v", err)
	}
	if rle.RetryAfter <= 0 || rle.RetryAfter > time.Hour {
		t.Fatalf("implausible retry-after %v", rle.RetryAfter)
	}
	if err := limiter.Reserve(ctx, "u2"); err != nil {
		t.Fatalf("Reserve for unrelated subject failed: %v", err)
	}
}

func TestRedisRateLimiterReserveRejectionKeepsWindowFixed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := NewRedisRateLimiter(rdb, "pgr", 1, time.Minute)
	ctx := context.Background()

	if err := limiter.Reserve(ctx, "u1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	ttlAfterFirst := mr.TTL("pgr:u1")

	mr.FastForward(30 * time.Second)
	if err := limiter.Reserve(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if ttl := mr.TTL("pgr:u1"); ttl > ttlAfterFirst-30*time.Second {
		t.Fatalf("rejected reserve extended the window: ttl %v after first %v", ttl, ttlAfterFirst)
	}

	mr.FastForward(time.Minute)
	if err := limiter.Reserve(ctx, "u1"); err != nil {
		t.Fatalf("Reserve after window lapse failed: %v", err)
	}
}

func TestRedisRateLimiterWindowReset(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := NewRedisRateLimiter(rdb, "pgr", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.Increment(ctx, "u1"); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}
	if err := limiter.Check(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("Check after window reset failed: %v", err)
	}
}

func TestRedisRateLimiterWindowIsFixedFromFirstHit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := NewRedisRateLimiter(rdb, "pgr", 3, time.Minute)
	ctx := context.Background()

	if err := limiter.Increment(ctx, "u1"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	ttlAfterFirst := mr.TTL("pgr:u1")

	mr.FastForward(30 * time.Second)
	if err := limiter.Increment(ctx, "u1"); err != nil {
		t.Fatalf("second Increment failed: %v", err)
	}

	// Later hits never push the window boundary out.
	if ttl := mr.TTL("pgr:u1"); ttl > ttlAfterFirst-30*time.Second {
		t.Fatalf("window was extended: ttl %v after first %v", ttl, ttlAfterFirst)
	}
}

func TestMemoryRateLimiterBoundaryAndReset(t *testing.T) {
	limiter := NewMemoryRateLimiter(3, time.Hour)
	clock := newTestClock()
	limiter.now = clock.Now
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := limiter.Check(ctx, "u1"); err != nil {
			t.Fatalf("Check before attempt %d failed: %v", i, err)
		}
		if err := limiter.Increment(ctx, "u1"); err != nil {
			t.Fatalf("Increment %d failed: %v", i, err)
		}
	}

	err := limiter.Check(ctx, "u1")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rle.RetryAfter != time.Hour {
		t.Fatalf("expected a full window retry-after, got %v", rle.RetryAfter)
	}

	clock.Advance(30 * time.Minute)
	if err := limiter.Check(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected mid-window limit to hold, got %v", err)
	}

	clock.Advance(31 * time.Minute)
	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("Check after window lapse failed: %v", err)
	}
	// A post-window attempt starts a fresh count.
	if err := limiter.Increment(ctx, "u1"); err != nil {
		t.Fatalf("Increment after lapse failed: %v", err)
	}
	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected fresh window after lapse, got %v", err)
	}
}

func TestMemoryRateLimiterReserveBoundaryAndReset(t *testing.T) {
	limiter := NewMemoryRateLimiter(3, time.Hour)
	clock := newTestClock()
	limiter.now = clock.Now
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := limiter.Reserve(ctx, "u1"); err != nil {
			t.Fatalf("Reserve %d failed: %v", i, err)
		}
	}

	err := limiter.Reserve(ctx, "u1")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected *RateLimitError, got %v", err)
	}
	if rle.RetryAfter != time.Hour {
		t.Fatalf("expected a full window retry-after, got %v", rle.RetryAfter)
	}

	clock.Advance(61 * time.Minute)
	if err := limiter.Reserve(ctx, "u1"); err != nil {
		t.Fatalf("Reserve after window lapse failed: %v", err)
	}
}

func TestMemoryRateLimiterReserveConcurrent(t *testing.T) {
	limiter := NewMemoryRateLimiter(5, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var granted atomic.Int64
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := limiter.Reserve(ctx, "u1"); err == nil {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := granted.Load(); got != 5 {
		t.Fatalf("expected exactly 5 granted reservations, got %d", got)
	}
}

func TestMemoryRateLimiterPurgeExpired(t *testing.T) {
	limiter := NewMemoryRateLimiter(3, time.Minute)
	clock := newTestClock()
	limiter.now = clock.Now
	ctx := context.Background()

	if err := limiter.Increment(ctx, "u1"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if purged := limiter.PurgeExpired(clock.Now()); purged != 0 {
		t.Fatalf("expected no purge for a live window, got %d", purged)
	}

	clock.Advance(2 * time.Minute)
	if purged := limiter.PurgeExpired(clock.Now()); purged != 1 {
		t.Fatalf("expected 1 purge, got %d", purged)
	}
}
