package ratelimit

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func TestAcquire_AllowsWithinBudget(t *testing.T) {
	l := New(60, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx, 1, 10); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
}

func TestAcquire_DisabledWhenZero(t *testing.T) {
	l := New(0, 0)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(ctx, 1, 1); err != nil {
			t.Fatalf("Acquire with disabled buckets should never block: %v", err)
		}
	}
}

func TestAcquire_RespectsContextCancellation(t *testing.T) {
	l := New(1, 1000)
	ctx := context.Background()
	if err := l.Acquire(ctx, 1, 0); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(cancelCtx, 1, 0); err == nil {
		t.Fatal("expected context deadline error when budget exhausted")
	}
}

func TestDelay_GrowsExponentiallyAndCaps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d1 := Delay(rng, 1)
	d5 := Delay(rng, 5)
	d20 := Delay(rng, 20)

	if d1 <= 0 {
		t.Fatal("expected positive delay")
	}
	if d5 <= d1 {
		t.Errorf("expected attempt 5 delay (%v) to exceed attempt 1 delay (%v)", d5, d1)
	}
	if d20 > BackoffMax+BackoffMax/4+time.Second {
		t.Errorf("expected delay capped near BackoffMax, got %v", d20)
	}
}

func TestClassify_RateLimitAndRetryable(t *testing.T) {
	err := errRateLimited
	rl := Classify(err, 429)
	if !rl.Retryable || !rl.IsRateLimit {
		t.Errorf("expected 429 to be retryable and a rate limit, got %+v", rl)
	}

	server := Classify(err, 503)
	if !server.Retryable || server.IsRateLimit {
		t.Errorf("expected 503 to be retryable but not a rate limit, got %+v", server)
	}

	auth := Classify(err, 401)
	if auth.Retryable {
		t.Errorf("expected 401 to be non-retryable, got %+v", auth)
	}
}

var errRateLimited = &testError{"rate limited"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
