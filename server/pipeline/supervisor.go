package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRestartDelay separates a crashed run from its restart.
const DefaultRestartDelay = time.Second

// Task supervises one long-running loop. At most one instance runs at a time;
// a run that panics is restarted after a delay until the task is stopped.
type Task struct {
	name         string
	run          func(ctx context.Context) error
	restartDelay time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	starts   int
	restarts int
}

// NewTask wraps run. logger may be nil.
func NewTask(name string, run func(ctx context.Context) error, logger *slog.Logger) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		name:         name,
		run:          run,
		restartDelay: DefaultRestartDelay,
		logger:       logger.With("task", name),
	}
}

// Start launches the loop unless it is already alive. It reports whether a
// new instance was started.
func (t *Task) Start(parent context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aliveLocked() {
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.starts++
	go t.supervise(ctx, done)
	t.logger.Info("task: started", "starts", t.starts)
	return true
}

func (t *Task) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		crashed, err := t.runOnce(ctx)
		if !crashed {
			if err != nil {
				t.logger.Error("task: exited with error", "error", err)
			}
			return
		}
		t.mu.Lock()
		t.restarts++
		t.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.restartDelay):
			t.logger.Warn("task: restarting after crash")
		}
	}
}

func (t *Task) runOnce(ctx context.Context) (crashed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("task: crashed", "panic", fmt.Sprint(r))
			crashed = true
		}
	}()
	return false, t.run(ctx)
}

// Alive reports whether the loop is running.
func (t *Task) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aliveLocked()
}

func (t *Task) aliveLocked() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the current instance exits.
// It is nil before the first start.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Stop cancels the loop and waits for it to exit or ctx to end.
func (t *Task) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Starts returns how many times Start launched a new instance.
func (t *Task) Starts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts
}

// Restarts returns how many crashed runs were restarted.
func (t *Task) Restarts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restarts
}
