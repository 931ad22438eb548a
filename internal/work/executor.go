// Package work provides the fire-and-forget goroutine primitive shared by the
// dispatch, broadcast, and lifecycle components.
package work

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Executor runs named background tasks with panic recovery. Task failures are
// logged and never propagate to the caller.
type Executor struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewExecutor creates an executor logging through the given logger.
func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("component", "executor")}
}

// Go runs fn in its own goroutine. Panics are recovered and logged with a
// stack trace; errors are logged. The caller is never affected.
func (e *Executor) Go(name string, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("background task panicked",
					"task", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()

		if err := fn(context.Background()); err != nil {
			e.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all launched tasks finish or ctx expires.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunWithTimeout runs fn with a bounded context, in the calling goroutine.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(bounded)
}
