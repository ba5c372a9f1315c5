// Package concurrency provides helpers for components that fan work out
// across goroutines.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a new pool where each task respects context cancellation.
// Wait() will only return the first error seen.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}

// ForEach runs fn once per item on a bounded pool and returns the first
// error seen. A failing item cancels the context passed to the items
// still running.
func ForEach[T any](ctx context.Context, items []T, maxGoroutines int, fn func(context.Context, T) error) error {
	p := NewPool(ctx, maxGoroutines)
	for _, item := range items {
		p.Go(func(ctx context.Context) error {
			return fn(ctx, item)
		})
	}
	return p.Wait()
}
