package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor bounds how many asynchronous invocations run concurrently for one
// project. The task manager obtains one per project from the registry's
// executor cache; Shutdown waits for in-flight work before returning.
type Executor struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewExecutor creates an executor allowing up to maxConcurrent dispatches.
func NewExecutor(maxConcurrent int64) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Executor{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Submit runs fn on its own goroutine once a concurrency slot is free.
// Blocks while the executor is saturated; fails only when the context is
// cancelled first or the executor has shut down.
func (e *Executor) Submit(ctx context.Context, fn func()) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return context.Canceled
	}
	e.wg.Add(1)
	e.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.wg.Done()
		return err
	}
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		fn()
	}()
	return nil
}

// Shutdown stops accepting work and waits for in-flight dispatches.
// Idempotent.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
