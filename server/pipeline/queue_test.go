package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10)
	ctx := context.Background()
	for _, c := range []string{"1", "2", "3"} {
		require.NoError(t, q.Push(ctx, NewItem("Alice", "friend", textMsg("Alice", c, ""))))
	}
	assert.Equal(t, 3, q.Len())

	var got []string
	for _, item := range drain(q) {
		got = append(got, item.Message.Content)
		assert.NotEmpty(t, item.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestQueue_PopTimeout(t *testing.T) {
	q := NewQueue(1)
	_, err := q.Pop(context.Background(), 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrPopTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Pop(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_PushBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Push(context.Background(), NewItem("Alice", "", textMsg("Alice", "1", ""))))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, NewItem("Alice", "", textMsg("Alice", "2", "")))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ShutdownAcknowledged(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, NewItem("Alice", "", textMsg("Alice", "before", ""))))

	consumed := make(chan string, 4)
	go func() {
		for {
			item, err := q.Pop(ctx, time.Second)
			if err != nil {
				continue
			}
			if item.IsSentinel() {
				item.Ack()
				close(consumed)
				return
			}
			consumed <- item.Message.Content
		}
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(shutdownCtx))

	var got []string
	for c := range consumed {
		got = append(got, c)
	}
	assert.Equal(t, []string{"before"}, got)
}

func TestQueue_ShutdownWithoutConsumer(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
}
