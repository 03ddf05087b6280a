package core

import (
	"context"
	"fmt"
	"sync"
)

// DefaultConcurrency is the in-flight limit used when a caller passes zero.
const DefaultConcurrency = 15

// Result pairs an input item with the outcome of its operation.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// ForEach applies fn to every item with at most limit calls in flight.
// Results come back in completion order, not input order. A failing or
// panicking item does not cancel its siblings; once ctx is done no new
// calls are started and the remaining items report ctx.Err().
func ForEach[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []Result[T, R] {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]Result[T, R], 0, len(items))
	var mu sync.Mutex
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	record := func(r Result[T, R]) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	for _, item := range items {
		wg.Add(1)
		go func(it T) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				record(Result[T, R]{Item: it, Err: ctx.Err()})
				return
			}

			// The semaphore may win the race against a cancelled context.
			if err := ctx.Err(); err != nil {
				record(Result[T, R]{Item: it, Err: err})
				return
			}

			record(call(ctx, it, fn))
		}(item)
	}

	wg.Wait()
	return results
}

func call[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (res Result[T, R]) {
	res.Item = item
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
		}
	}()
	res.Value, res.Err = fn(ctx, item)
	return res
}

// Errors returns the non-nil errors of results.
func Errors[T, R any](results []Result[T, R]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
