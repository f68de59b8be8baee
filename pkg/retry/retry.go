// Package retry runs an operation again with exponential backoff and jitter.
// It guards the storage writes of the reward path and best-effort calls
// to the notifier and the leaderboard cache.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

// RetryableError marks a failure worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// PermanentError marks a failure that repeats no matter how often it is tried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Retryable wraps err so that the default policy retries it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Permanent wraps err so that Do stops at once and returns err itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsRetryable reports whether err carries the Retryable marker.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

// unmark strips a top-level marker so callers see their own error.
func unmark(err error) error {
	switch e := err.(type) {
	case *RetryableError:
		return e.Err
	case *PermanentError:
		return e.Err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// policy is the immutable retry configuration behind a Retrier.
type policy struct {
	attempts   int
	initial    time.Duration
	ceiling    time.Duration
	multiplier float64
	jitter     float64

	retryIf func(error) bool
	onRetry func(attempt int, err error, delay time.Duration)
	sleep   func(ctx context.Context, d time.Duration) error
}

func defaultPolicy() policy {
	return policy{
		attempts:   3,
		initial:    100 * time.Millisecond,
		ceiling:    30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
		sleep:      sleepContext,
	}
}

// Option tunes a Retrier.
type Option func(*policy)

// WithMaxAttempts sets the total attempt budget, first call included.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithInitialDelay sets the wait before the second attempt.
func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.initial = d
		}
	}
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.ceiling = d
		}
	}
}

// WithMultiplier sets the backoff growth factor. Values below 1 are ignored.
func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.multiplier = m
		}
	}
}

// WithJitter sets the relative jitter in [0, 1].
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithRetryIf replaces the default classification, which retries only
// errors marked Retryable. Permanent errors are never retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) { p.retryIf = fn }
}

// WithOnRetry registers a hook run before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) { p.onRetry = fn }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *policy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs operations under one policy. It is safe for concurrent use.
type Retrier struct {
	p policy
}

// New builds a Retrier from the defaults and opts.
func New(opts ...Option) *Retrier {
	return (&Retrier{p: defaultPolicy()}).With(opts...)
}

// With returns a copy with extra options applied.
func (r *Retrier) With(opts ...Option) *Retrier {
	p := r.p
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{p: p}
}

// MaxAttempts returns the attempt budget.
func (r *Retrier) MaxAttempts() int {
	return r.p.attempts
}

// Do calls operation until it succeeds, the error is not retried,
// the budget runs out or ctx is done. The returned error never carries
// a top-level marker.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		last = operation(ctx)
		if last == nil {
			return nil
		}
		if !r.shouldRetry(last) || attempt >= r.p.attempts {
			return unmark(last)
		}

		delay := r.backoff(attempt)
		if r.p.onRetry != nil {
			r.p.onRetry(attempt, last, delay)
		}
		if err := r.p.sleep(ctx, delay); err != nil {
			return unmark(last)
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if r.p.retryIf != nil {
		return r.p.retryIf(err)
	}
	return IsRetryable(err)
}

// backoff is initial * multiplier^(attempt-1), capped, then jittered.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := float64(r.p.initial) * math.Pow(r.p.multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.p.ceiling))
	if r.p.jitter > 0 {
		d += d * r.p.jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs operation with a one-off Retrier.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, operation func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var result T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

func notCancelled(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// StorageRetrier retries user saves and journal appends.
// Every error except a context cancellation or a Permanent one is retried;
// callers wrap deterministic failures such as validation with Permanent.
func StorageRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
		WithRetryIf(notCancelled),
	)
}

// CacheRetrier retries leaderboard cache writes once.
func CacheRetrier() *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(20*time.Millisecond),
		WithMaxDelay(200*time.Millisecond),
		WithRetryIf(notCancelled),
	)
}

// NotifierRetrier retries notification delivery marked as Retryable.
func NotifierRetrier() *Retrier {
	return New(
		WithMaxAttempts(4),
		WithMaxDelay(5*time.Second),
		WithMultiplier(1.5),
	)
}
