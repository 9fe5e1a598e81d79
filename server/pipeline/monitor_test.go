package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/replybridge/ai/metrics"
	"github.com/hrygo/replybridge/plugin/wechat"
)

func newTestMonitor(state *State, clock Clock) (*Monitor, *Queue) {
	q := NewQueue(100)
	return NewMonitor(state, q, NewDedupCache(), clock, MonitorConfig{}, nil, nil), q
}

func contents(items []*Item) []string {
	out := make([]string, 0, len(items))
	for _, i := range items {
		out = append(out, i.Message.Content)
	}
	return out
}

func TestMonitor_DedupIdempotence(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(
		batchOf("Alice", textMsg("Alice", "Hi", "10:01"), textMsg("Alice", "Hi", "10:01")),
		batchOf("Alice", textMsg("Alice", "Hi", "10:01")),
		batchOf("Alice", textMsg("Alice", "Hi", "10:02")),
	)
	m, q := newTestMonitor(connectedState(client, "Alice"), newFakeClock())

	for i := 0; i < 3; i++ {
		assert.Equal(t, m.cfg.PollInterval, m.iterate(ctx))
	}
	items := drain(q)
	require.Len(t, items, 2)
	assert.Equal(t, "10:01", items[0].Message.Time)
	assert.Equal(t, "10:02", items[1].Message.Time)
}

func TestMonitor_OrderPreservation(t *testing.T) {
	ctx := context.Background()
	var want []string
	client := newFakeClient()
	for b := 0; b < 5; b++ {
		batch := batchOf("Alice")
		for i := 0; i < 4; i++ {
			content := fmt.Sprintf("msg-%d-%d", b, i)
			sender := "Alice"
			if i%2 == 1 {
				sender = "Bob"
			}
			batch.Messages = append(batch.Messages, textMsg(sender, content, "10:00"))
			want = append(want, content)
		}
		client.push(batch)
	}
	m, q := newTestMonitor(connectedState(client, "Alice", "Bob"), newFakeClock())

	for i := 0; i < 5; i++ {
		m.iterate(ctx)
	}
	assert.Equal(t, want, contents(drain(q)))
}

func TestMonitor_Filters(t *testing.T) {
	ctx := context.Background()
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	client := newFakeClient(batchOf("Alice",
		textMsg("Carol", "not watched", "10:00"),
		textMsg("", "no sender", "10:00"),
		selfMsg("my own echo", "10:00"),
		&wechat.Message{Sender: "Alice", Attr: "self", Content: "echo under peer name", Time: "10:00"},
		textMsg("Alice", "keep me", "10:00"),
	))
	q := NewQueue(10)
	m := NewMonitor(connectedState(client, "Alice"), q, NewDedupCache(), newFakeClock(), MonitorConfig{}, exporter, nil)

	m.iterate(ctx)
	assert.Equal(t, []string{"keep me"}, contents(drain(q)))
	assert.Equal(t, 1, m.dedup.Len("Alice"))
	assert.Equal(t, 0, m.dedup.Len("Carol"))

	// unmonitored and self series
	n, err := testutil.GatherAndCount(exporter.GetRegistry(), "replybridge_monitor_messages_discarded_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMonitor_SelfNeverEnqueued(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	for i := 0; i < 10; i++ {
		client.push(batchOf("Alice", &wechat.Message{Sender: "Alice", Attr: "self", Content: fmt.Sprint(i)}))
	}
	m, q := newTestMonitor(connectedState(client, "Alice"), newFakeClock())
	for i := 0; i < 10; i++ {
		m.iterate(ctx)
	}
	assert.Zero(t, q.Len())
}

func TestMonitor_StateMachine(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultMonitorConfig()

	t.Run("idle without monitored conversations", func(t *testing.T) {
		client := newFakeClient(batchOf("Alice", textMsg("Alice", "Hi", "")))
		m, q := newTestMonitor(connectedState(client), newFakeClock())
		assert.Equal(t, cfg.IdleInterval, m.iterate(ctx))
		assert.Equal(t, LoopIdle, m.State())
		assert.Zero(t, client.fetchCount())
		assert.Zero(t, q.Len())
	})

	t.Run("backoff while disconnected", func(t *testing.T) {
		s := NewState()
		s.AddContact("Alice", false)
		m, _ := newTestMonitor(s, newFakeClock())
		assert.Equal(t, cfg.DisconnectedBackoff, m.iterate(ctx))
		assert.Equal(t, LoopBackoff, m.State())
	})

	t.Run("backoff after fetch error", func(t *testing.T) {
		client := newFakeClient()
		client.fetchErr = wechat.ErrUnreachable
		m, _ := newTestMonitor(connectedState(client, "Alice"), newFakeClock())
		assert.Equal(t, cfg.FetchErrorBackoff, m.iterate(ctx))
		assert.Equal(t, LoopBackoff, m.State())

		client.mu.Lock()
		client.fetchErr = nil
		client.mu.Unlock()
		assert.Equal(t, cfg.PollInterval, m.iterate(ctx), "recovers on the next iteration")
		assert.Equal(t, LoopFetching, m.State())
	})

	t.Run("iteration panic is contained", func(t *testing.T) {
		client := newFakeClient()
		client.panicMsg = "driver exploded"
		m, _ := newTestMonitor(connectedState(client, "Alice"), newFakeClock())
		assert.Equal(t, cfg.IterationErrorBackoff, m.iterate(ctx))
	})

	t.Run("empty batch polls again", func(t *testing.T) {
		m, _ := newTestMonitor(connectedState(newFakeClient(), "Alice"), newFakeClock())
		assert.Equal(t, cfg.PollInterval, m.iterate(ctx))
	})
}

func TestMonitor_RunSurvivesFailures(t *testing.T) {
	client := newFakeClient()
	client.fetchErr = errors.New("transient")
	clock := newFakeClock()
	m, q := newTestMonitor(connectedState(client, "Alice"), clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return clock.sleepCount(m.cfg.FetchErrorBackoff) >= 3 }, 2*time.Second, time.Millisecond)
	client.mu.Lock()
	client.fetchErr = nil
	client.batches = append(client.batches, batchOf("Alice", textMsg("Alice", "after errors", "10:00")))
	client.mu.Unlock()
	require.Eventually(t, func() bool { return q.Len() == 1 }, 2*time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, LoopStopped, m.State())
}

func TestMonitor_IdleAfterLastStop(t *testing.T) {
	client := newFakeClient()
	state := connectedState(client, "Alice")
	clock := newFakeClock()
	m, _ := newTestMonitor(state, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool { return client.fetchCount() > 0 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, state.RemoveContact("Alice"))
	require.Eventually(t, func() bool { return m.State() == LoopIdle }, 2*time.Second, time.Millisecond)

	fetches := client.fetchCount()
	idleSleeps := clock.sleepCount(m.cfg.IdleInterval)
	require.Eventually(t, func() bool { return clock.sleepCount(m.cfg.IdleInterval) >= idleSleeps+5 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, fetches, client.fetchCount(), "no fetch while idle")
	assert.Equal(t, LoopIdle, m.State(), "loop still alive")
}
