// Package executor runs blocking table operations to completion on a
// single shared worker.
//
// The C boundary is synchronous: each exported call hands its work to the
// executor and blocks until it finishes. Work items never overlap, so the
// foreign caller observes run-to-completion semantics even when several
// host threads call in at once.
//
// # Basic Usage
//
//	exec := executor.New(logger)
//	defer exec.Close()
//
//	err := exec.Run(ctx, func(ctx context.Context) error {
//	    return manager.Open(ctx)
//	})
package executor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New(errors.ErrorTypeNotInitialized, "executor closed")

// Task is one unit of work.
type Task func(ctx context.Context) error

type job struct {
	ctx    context.Context
	fn     Task
	result chan error
}

// Executor serializes tasks onto one goroutine.
type Executor struct {
	jobs   chan job
	ctx    context.Context    // Executor lifetime
	cancel context.CancelFunc // Cancels running tasks on Close
	wg     sync.WaitGroup     // Tracks the worker
	once   sync.Once
	logger *zap.Logger

	completed int64
	failed    int64
}

// New starts the worker.
func New(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		jobs:   make(chan job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("component", "executor")),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case j := <-e.jobs:
			err := e.exec(j)
			if err != nil {
				atomic.AddInt64(&e.failed, 1)
			} else {
				atomic.AddInt64(&e.completed, 1)
			}
			j.result <- err
		case <-e.ctx.Done():
			return
		}
	}
}

// exec runs one job, turning a panic into an internal error so a bug in a
// task cannot take down the host process.
func (e *Executor) exec(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = errors.Newf(errors.ErrorTypeInternal, "task panicked: %v", r)
		}
	}()

	ctx, cancel := mergeCancel(j.ctx, e.ctx)
	defer cancel()
	return j.fn(ctx)
}

// Run submits fn and blocks until it has run. If ctx ends first, Run
// returns the context error; fn has then either not started or is still
// running with a cancelled context.
func (e *Executor) Run(ctx context.Context, fn Task) error {
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case e.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns how many tasks succeeded and failed.
func (e *Executor) Stats() (completed, failed int64) {
	return atomic.LoadInt64(&e.completed), atomic.LoadInt64(&e.failed)
}

// Close cancels the running task, if any, and waits for the worker to
// exit. Later calls to Run fail with ErrClosed.
func (e *Executor) Close() error {
	e.once.Do(func() {
		e.cancel()
		e.wg.Wait()
		completed, failed := e.Stats()
		e.logger.Debug("executor stopped",
			zap.Int64("completed", completed),
			zap.Int64("failed", failed))
	})
	return nil
}

// mergeCancel returns a context carrying a's values that is cancelled
// when either a or b is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
