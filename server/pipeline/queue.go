package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/replybridge/plugin/wechat"
)

// DefaultQueueSize bounds the number of messages waiting for the processor.
const DefaultQueueSize = 1000

// ErrPopTimeout is returned by Pop when no item arrived within the timeout.
var ErrPopTimeout = errors.New("queue pop timed out")

// Item is one routed message.
type Item struct {
	ID         string
	ChatName   string
	ChatKind   string
	Message    *wechat.Message
	EnqueuedAt time.Time

	ack chan struct{}
}

// NewItem wraps a message routed from chatName.
func NewItem(chatName, chatKind string, msg *wechat.Message) *Item {
	return &Item{
		ID:         shortuuid.New(),
		ChatName:   chatName,
		ChatKind:   chatKind,
		Message:    msg,
		EnqueuedAt: time.Now(),
	}
}

// IsSentinel reports whether the item asks the consumer to stop.
func (i *Item) IsSentinel() bool {
	return i.ack != nil
}

// Ack acknowledges a sentinel. It is a no-op for regular items.
func (i *Item) Ack() {
	if i.ack != nil {
		close(i.ack)
	}
}

// Queue is a bounded FIFO between the monitor and the processor.
type Queue struct {
	ch chan *Item
}

// NewQueue creates a queue holding at most size items.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan *Item, size)}
}

// Push blocks while the queue is full.
func (q *Queue) Push(ctx context.Context, item *Item) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits up to timeout for the next item.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Item, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		return item, nil
	case <-timer.C:
		return nil, ErrPopTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown enqueues a sentinel and waits for the consumer to acknowledge it.
// Items queued before the sentinel are still delivered first.
func (q *Queue) Shutdown(ctx context.Context) error {
	sentinel := &Item{ack: make(chan struct{})}
	if err := q.Push(ctx, sentinel); err != nil {
		return err
	}
	select {
	case <-sentinel.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of waiting items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
