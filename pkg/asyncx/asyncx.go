// Package asyncx holds the small set of concurrency helpers the service
// layers share: bounded fan-out and retry with backoff. Every helper honors
// context cancellation.
package asyncx

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ─── Worker Pool ──────────────────────────────────────────────────────────────

// Pool processes items using at most workers goroutines and returns results
// in the original order. Every item is attempted; errs holds one entry per
// item and is nil when all succeeded.
func Pool[T any, R any](
	ctx context.Context,
	workers int,
	items []T,
	fn func(context.Context, T) (R, error),
) (results []R, errs []error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	type indexed struct {
		i    int
		item T
	}

	work := make(chan indexed, len(items))
	for i, item := range items {
		work <- indexed{i: i, item: item}
	}
	close(work)

	results = make([]R, len(items))
	all := make([]error, len(items))
	var failed bool
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for w := range work {
				var err error
				if err = ctx.Err(); err == nil {
					results[w.i], err = fn(ctx, w.item)
				}
				if err != nil {
					all[w.i] = err
					mu.Lock()
					failed = true
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if failed {
		return results, all
	}
	return results, nil
}

// ─── Retry ────────────────────────────────────────────────────────────────────

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. RetryWithBackoff returns the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff calls fn up to attempts times with exponential backoff
// starting at initialDelay. The delay doubles after each failed attempt.
func RetryWithBackoff[T any](
	ctx context.Context,
	attempts int,
	initialDelay time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	var (
		zero  T
		err   error
		val   T
		delay = initialDelay
	)
	if attempts <= 0 {
		attempts = 1
	}
	for i := range attempts {
		if cerr := ctx.Err(); cerr != nil {
			return zero, cerr
		}

		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return zero, p.err
		}

		if i < attempts-1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
				delay *= 2
			}
		}
	}
	return zero, err
}
