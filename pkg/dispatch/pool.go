package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// blockingPool bounds the concurrent execution of user-supplied closures
// (dynamic response bodies, is_true/is_false matchers) per spec.md §5:
// "user closures ... may block and are offloaded to a blocking worker
// pool." Modeled on the teacher's use of errgroup.Group for bounded
// parallel work in pkg/engine/server.go's shutdown coordination, adapted
// here into a fixed-size semaphore gate rather than a one-shot fan-out.
type blockingPool struct {
	sem chan struct{}
}

// newBlockingPool builds a pool that admits at most size concurrent
// closure executions. A non-positive size falls back to a bound of 64.
func newBlockingPool(size int) *blockingPool {
	if size <= 0 {
		size = 64
	}
	return &blockingPool{sem: make(chan struct{}, size)}
}

// run executes fn under the pool's concurrency bound, returning early with
// ctx.Err() if the context is cancelled before a slot frees up (spec.md §5
// cancellation: "client disconnect cancels the per-request task at the
// next suspension point").
func (p *blockingPool) run(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(fn)
	_ = gctx
	return g.Wait()
}
