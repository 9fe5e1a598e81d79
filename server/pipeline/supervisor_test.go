package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_StartIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	task := NewTask("loop", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return nil
	}, nil)

	assert.False(t, task.Alive())
	assert.True(t, task.Start(context.Background()))
	assert.False(t, task.Start(context.Background()))
	assert.True(t, task.Alive())
	assert.Equal(t, 1, task.Starts())

	require.NoError(t, task.Stop(context.Background()))
	assert.False(t, task.Alive())
	assert.EqualValues(t, 1, runs.Load())

	assert.True(t, task.Start(context.Background()), "restartable after stop")
	require.NoError(t, task.Stop(context.Background()))
	assert.Equal(t, 2, task.Starts())
}

func TestTask_RestartsAfterPanic(t *testing.T) {
	var runs atomic.Int32
	task := NewTask("crashy", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return nil
	}, nil)
	task.restartDelay = time.Millisecond

	task.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	assert.True(t, task.Alive())
	assert.Equal(t, 1, task.Restarts())
	assert.Equal(t, 1, task.Starts())
	require.NoError(t, task.Stop(context.Background()))
}

func TestTask_ExitEndsLiveness(t *testing.T) {
	task := NewTask("once", func(context.Context) error { return nil }, nil)
	task.Start(context.Background())
	require.Eventually(t, func() bool { return !task.Alive() }, time.Second, time.Millisecond)
	assert.Equal(t, 0, task.Restarts())
}

func TestTask_StopBeforeStart(t *testing.T) {
	task := NewTask("idle", func(context.Context) error { return nil }, nil)
	assert.NoError(t, task.Stop(context.Background()))
	assert.Nil(t, task.Done())
}
