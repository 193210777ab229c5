// Package batch runs independent tasks in parallel and joins them at a barrier.
package batch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Group spawns independent tasks and waits for all of them.
//
// The same Group is used for chunk decompression and for every phase of the
// class loading pipeline, so worker limits are configured in one place.
type Group struct {
	workers int // 0 = GOMAXPROCS, <0 = serial, >0 = fixed count
}

// New creates a Group.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func New(workers int) *Group {
	return &Group{workers: workers}
}

// Workers returns the effective parallelism for n tasks.
func (g *Group) Workers(n int) int {
	if g == nil || g.workers == 0 {
		return min(n, runtime.GOMAXPROCS(0))
	}
	if g.workers < 0 {
		return 1
	}
	return min(n, g.workers)
}

// Run calls fn for every index in [0, n) and returns once all calls have
// finished. The first error cancels the context passed to remaining calls
// and is returned.
func (g *Group) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := g.Workers(n)
	if workers < 2 {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := range n {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	return eg.Wait()
}

// ForEach runs fn for every item using g.
func ForEach[T any](ctx context.Context, g *Group, items []T, fn func(ctx context.Context, item T) error) error {
	return g.Run(ctx, len(items), func(ctx context.Context, i int) error {
		return fn(ctx, items[i])
	})
}
