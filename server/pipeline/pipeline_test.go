package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/replybridge/ai/metrics"
	"github.com/hrygo/replybridge/ai/reply"
)

func TestPipeline_EndToEnd(t *testing.T) {
	st := newTestStore(t)
	client := newFakeClient(
		batchOf("Alice", textMsg("Alice", "Hi", "10:01"), textMsg("Alice", "Hi", "10:01")),
		batchOf("Alice", selfMsg("Auto-reply: ...", "10:01"), textMsg("Bob", "unwatched", "10:01")),
		batchOf("Alice", textMsg("Alice", "Price?", "10:02")),
	)
	state := connectedState(client, "Alice")
	p := New(state, st, reply.NewEngine(st, reply.Options{}), Config{
		QueueSize: 10,
		Clock:     newFakeClock(),
		Processor: ProcessorConfig{PopTimeout: 10 * time.Millisecond},
	}, metrics.NewPrometheusExporter(metrics.DefaultConfig()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitorStarted, processorStarted := p.EnsureRunning(ctx)
	assert.True(t, monitorStarted)
	assert.True(t, processorStarted)

	require.Eventually(t, func() bool { return len(listSuggestions(t, st)) == 2 }, 5*time.Second, 5*time.Millisecond)

	msgs := listMessages(t, st, "Alice")
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi", msgs[0].Content)
	assert.Equal(t, "Price?", msgs[1].Content)
	assert.Empty(t, listMessages(t, st, "Bob"))
	assert.Empty(t, client.replyTexts())

	monitorStarted, processorStarted = p.EnsureRunning(ctx)
	assert.False(t, monitorStarted, "already alive")
	assert.False(t, processorStarted, "already alive")
	h := p.Health()
	assert.True(t, h.MonitorAlive)
	assert.True(t, h.ProcessorAlive)
	assert.Equal(t, 1, h.MonitorStarts)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, p.Shutdown(shutdownCtx))
	h = p.Health()
	assert.False(t, h.MonitorAlive)
	assert.False(t, h.ProcessorAlive)
	assert.Equal(t, LoopStopped, h.MonitorState)
}

func TestPipeline_ShutdownWithoutLoops(t *testing.T) {
	p := New(NewState(), newTestStore(t), reply.NewEngine(nil, reply.Options{}), Config{}, nil, nil)
	assert.NoError(t, p.Shutdown(context.Background()))
}
