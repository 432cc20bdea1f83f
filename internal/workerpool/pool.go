// SPDX-License-Identifier: MPL-2.0

// Package workerpool executes batches of independent tasks with bounded
// parallelism. A batch is synchronous from the caller's point of view: Run
// returns once every task has finished, or as soon as the first task fails.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrReleased is returned when a batch is submitted to a pool that has
// already been released.
var ErrReleased = errors.New("worker pool has been released")

type (
	// Task is a unit of work producing a value of type T. The context is
	// cancelled when another task in the same batch fails.
	Task[T any] func(ctx context.Context) (T, error)

	// Pool bounds how many tasks of a batch run at the same time. A Pool is
	// created once per build run and released exactly once at the end.
	//
	// The bound applies per batch: a task may submit a nested batch to the
	// same pool without waiting on slots held by its parent.
	Pool struct {
		size     int
		released atomic.Bool
	}
)

// New creates a pool running at most size tasks of a batch concurrently.
// A non-positive size selects the number of logical CPUs.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{size: size}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int {
	return p.size
}

// Release marks the pool as unusable. Calling it more than once is a no-op.
func (p *Pool) Release() {
	p.released.Store(true)
}

// Released reports whether Release has been called.
func (p *Pool) Released() bool {
	return p.released.Load()
}

// Run executes tasks and returns their results in submission order. The first
// task error cancels the rest of the batch and is returned; no partial
// results are returned in that case.
func Run[T any](ctx context.Context, p *Pool, tasks []Task[T]) ([]T, error) {
	if p.Released() {
		return nil, ErrReleased
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	results := make([]T, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	for i, task := range tasks {
		g.Go(func() error {
			// Tasks queued behind a failure never start.
			if err := gctx.Err(); err != nil {
				return err
			}
			value, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = value
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunAll executes side-effect-only functions as one batch.
func RunAll(ctx context.Context, p *Pool, fns ...func(ctx context.Context) error) error {
	tasks := make([]Task[struct{}], 0, len(fns))
	for _, fn := range fns {
		tasks = append(tasks, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		})
	}
	_, err := Run(ctx, p, tasks)
	return err
}
