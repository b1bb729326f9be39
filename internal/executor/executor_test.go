package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/testutil"
)

func TestRunReturnsTaskError(t *testing.T) {
	e := New(testutil.TestLogger(t))
	defer e.Close()

	want := errors.New(errors.ErrorTypeEngineWrite, "rejected")
	err := e.Run(context.Background(), func(context.Context) error { return want })
	assert.Same(t, want, err)

	require.NoError(t, e.Run(context.Background(), func(context.Context) error { return nil }))
	completed, failed := e.Stats()
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, int64(1), failed)
}

func TestTasksNeverOverlap(t *testing.T) {
	e := New(testutil.TestLogger(t))
	defer e.Close()

	var running, overlapped int32
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := e.Run(context.Background(), func(context.Context) error {
				if atomic.AddInt32(&running, 1) > 1 {
					atomic.StoreInt32(&overlapped, 1)
				}
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&running, -1)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlapped))
	assert.Len(t, order, 16)
}

func TestPanicBecomesInternalError(t *testing.T) {
	e := New(testutil.TestLogger(t))
	defer e.Close()

	err := e.Run(context.Background(), func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))

	// the worker survives
	assert.NoError(t, e.Run(context.Background(), func(context.Context) error { return nil }))
}

func TestCloseCancelsRunningTask(t *testing.T) {
	e := New(testutil.TestLogger(t))

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- e.Run(context.Background(), func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	require.NoError(t, e.Close())
	assert.ErrorIs(t, <-result, context.Canceled)

	err := e.Run(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotInitialized))
}

func TestRunHonorsCallerContext(t *testing.T) {
	e := New(testutil.TestLogger(t))
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)
	err := e.Run(ctx, func(ctx context.Context) error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskSeesCallerValues(t *testing.T) {
	e := New(testutil.TestLogger(t))
	defer e.Close()

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "people")
	err := e.Run(ctx, func(ctx context.Context) error {
		assert.Equal(t, "people", ctx.Value(key{}))
		return nil
	})
	assert.NoError(t, err)
}
