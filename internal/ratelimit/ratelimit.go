// Package ratelimit implements the dual-bucket cooperative limiter and
// retry backoff used by outbound OpenAI calls (spec component C3). It is
// grounded on the token-bucket and exponential-backoff helpers in
// other_examples' worker.go (makeTokenBucket, expBackoff, addJitter,
// isRateLimit/isRetryable), generalized from a single requests-per-second
// bucket to the requests-per-minute and tokens-per-minute pair spec 4.3
// requires.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Limiter cooperatively throttles outbound calls against two independent
// per-minute budgets: a request count and a token count. Both buckets
// refill continuously; Acquire blocks until both have enough headroom or
// ctx is cancelled.
type Limiter struct {
	reqBucket *bucket
	tokBucket *bucket
}

// New creates a limiter with the given per-minute request and token
// budgets. A zero or negative value disables that bucket's throttling.
func New(reqPerMin, tokPerMin int) *Limiter {
	return &Limiter{
		reqBucket: newBucket(reqPerMin, time.Minute),
		tokBucket: newBucket(tokPerMin, time.Minute),
	}
}

// Acquire blocks until reqCost requests and tokCost tokens worth of budget
// are available, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, reqCost, tokCost int) error {
	if err := l.reqBucket.take(ctx, reqCost); err != nil {
		return err
	}
	if err := l.tokBucket.take(ctx, tokCost); err != nil {
		return err
	}
	return nil
}

// bucket is a continuously-refilling token bucket sized to permit `limit`
// units per `per` duration. capacity doubles as burst allowance.
type bucket struct {
	limit    int
	per      time.Duration
	capacity float64

	mu       chanMutex
	tokens   float64
	lastFill time.Time
}

type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) lock()   { <-m }
func (m chanMutex) unlock() { m <- struct{}{} }

func newBucket(limit int, per time.Duration) *bucket {
	cap := float64(limit)
	if limit <= 0 {
		cap = math.MaxFloat64 / 2
	}
	return &bucket{
		limit:    limit,
		per:      per,
		capacity: cap,
		tokens:   cap,
		lastFill: time.Now(),
		mu:       newChanMutex(),
	}
}

func (b *bucket) take(ctx context.Context, cost int) error {
	if b.limit <= 0 || cost <= 0 {
		return nil
	}
	for {
		b.mu.lock()
		b.refill()
		if b.tokens >= float64(cost) {
			b.tokens -= float64(cost)
			b.mu.unlock()
			return nil
		}
		deficit := float64(cost) - b.tokens
		wait := time.Duration(deficit / float64(b.limit) * float64(b.per))
		b.mu.unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-t.C:
		}
	}
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastFill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() / b.per.Seconds() * float64(b.limit)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastFill = now
}

// BackoffBase/BackoffMax bound the exponential backoff used on retryable
// OpenAI errors (spec 4.3/4.8).
const (
	BackoffBase = 2 * time.Second
	BackoffMax  = 60 * time.Second
)

// Delay returns the exponential backoff with jitter for the given attempt
// number (1-indexed), grounded on other_examples' expBackoff/addJitter.
func Delay(rng *rand.Rand, attempt int) time.Duration {
	d := expBackoff(BackoffBase, attempt, BackoffMax)
	return addJitter(rng, d)
}

func expBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mult)
	if d > max {
		return max
	}
	return d
}

func addJitter(rng *rand.Rand, d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	j := time.Duration(rng.Int63n(int64(d/4) + 1))
	return d + j
}

// RetryableError wraps an error with whether it should be retried and
// whether it specifically indicates rate limiting (spec's
// OPENAI_RATE_LIMIT vs other failure error codes).
type RetryableError struct {
	Err         error
	Retryable   bool
	IsRateLimit bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Classify inspects err for HTTP-status-carrying error types, mirroring
// other_examples' isRateLimit/isRetryable. httpStatus is a best-effort
// extraction hook supplied by the caller (the OpenAI SDK's error type),
// since this package has no SDK dependency of its own.
func Classify(err error, httpStatus int) *RetryableError {
	if err == nil {
		return nil
	}
	if httpStatus == 429 {
		return &RetryableError{Err: err, Retryable: true, IsRateLimit: true}
	}
	if httpStatus == 408 || (httpStatus >= 500 && httpStatus <= 599) {
		return &RetryableError{Err: err, Retryable: true}
	}
	if httpStatus == 401 || httpStatus == 403 {
		return &RetryableError{Err: err, Retryable: false}
	}
	// Unknown status (e.g. network error, no HTTP response at all):
	// default to retryable, matching other_examples' isRetryable default.
	return &RetryableError{Err: err, Retryable: httpStatus == 0}
}

// ErrCancelled wraps context cancellation surfaced from Acquire, kept as a
// distinct sentinel so callers can differentiate it from API errors.
var ErrCancelled = errors.New("ratelimit: acquire cancelled")
