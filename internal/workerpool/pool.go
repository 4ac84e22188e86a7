package workerpool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of CPU-bound jobs running at once. Callers block in
// Run until a slot is free or their context ends.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
}

// New returns a pool with the given number of slots; size <= 0 uses GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Run executes fn on its own goroutine once a slot is acquired and waits for
// it. A cancelled context returns early; fn keeps its slot until it returns.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("worker panic: %v", r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go is Run for jobs that produce a value.
func Go[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var result T
	err := p.Run(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
