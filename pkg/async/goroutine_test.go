package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, workers, queue int, timeout time.Duration) (*WorkerPool, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), workers, queue, "test", timeout, logger)
	t.Cleanup(func() { pool.Shutdown(time.Second) })
	return pool, hook
}

func TestWorkerPool_Basic(t *testing.T) {
	pool, _ := newTestPool(t, 4, 16, time.Second)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(10), count.Load(), "shutdown drains the queue")
	assert.Zero(t, pool.Failed())
}

func TestWorkerPool_ErrorsAndPanics(t *testing.T) {
	pool, hook := newTestPool(t, 1, 4, time.Second)

	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return errors.New("boom") }))
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { panic("kaboom") }))
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int64(2), pool.Failed())

	var warned, panicked bool
	for _, entry := range hook.AllEntries() {
		switch {
		case entry.Level == logrus.WarnLevel && entry.Message == "task failed":
			warned = true
		case entry.Level == logrus.ErrorLevel && entry.Message == "task panicked":
			panicked = true
			assert.Equal(t, "kaboom", entry.Data["panic"])
			assert.Equal(t, "test", entry.Data["pool"])
		}
	}
	assert.True(t, warned)
	assert.True(t, panicked)
}

func TestWorkerPool_TrySubmitQueueFull(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1, time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrQueueFull)

	close(release)
}

func TestWorkerPool_SubmitHonorsContext(t *testing.T) {
	pool, _ := newTestPool(t, 1, 0, time.Second)

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1, time.Second)
	require.NoError(t, pool.Shutdown(time.Second))

	assert.ErrorIs(t, pool.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, pool.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1, 20*time.Millisecond)

	var deadline atomic.Bool
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}))

	require.NoError(t, pool.Shutdown(time.Second))
	assert.True(t, deadline.Load())
	assert.Equal(t, int64(1), pool.Failed())
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool, _ := newTestPool(t, 1, 1, time.Minute)

	started := make(chan struct{})
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}))
	<-started

	err := pool.Shutdown(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timed out")
}
