package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPoolProcessesTasks(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 4, 16, "test", zap.NewNop().Sugar())
	wp.Start()

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, wp.Submit(func() { count.Add(1) }))
	}
	wp.Stop()
	assert.Equal(t, int64(10), count.Load(), "Stop drains queued tasks")
}

func TestWorkerPoolRejectsAfterStop(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	wp.Start()
	wp.Stop()

	assert.ErrorIs(t, wp.Submit(func() {}), ErrWorkerPoolNotRunning)
	assert.ErrorIs(t, wp.SubmitWait(context.Background(), func() {}), ErrWorkerPoolNotRunning)
}

func TestWorkerPoolQueueFull(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	// not started: nothing consumes the queue
	wp.mu.Lock()
	wp.running = true
	wp.mu.Unlock()

	require.NoError(t, wp.Submit(func() {}))
	assert.ErrorIs(t, wp.Submit(func() {}), ErrWorkerPoolQueueFull)
}

func TestWorkerPoolSubmitWaitHonorsContext(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 1, "test", zap.NewNop().Sugar())
	wp.mu.Lock()
	wp.running = true
	wp.mu.Unlock()
	require.NoError(t, wp.Submit(func() {}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := wp.SubmitWait(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPoolSurvivesPanickingTask(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 4, "test", zap.NewNop().Sugar())
	wp.Start()

	var ran atomic.Bool
	require.NoError(t, wp.Submit(func() { panic("boom") }))
	require.NoError(t, wp.Submit(func() { ran.Store(true) }))
	wp.Stop()

	assert.True(t, ran.Load(), "a panicking task must not kill the worker")
}
