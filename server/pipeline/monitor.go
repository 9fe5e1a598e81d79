package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hrygo/replybridge/ai/metrics"
	"github.com/hrygo/replybridge/internal/strutil"
	"github.com/hrygo/replybridge/plugin/wechat"
)

// LoopState is the observable state of the monitor loop.
type LoopState string

const (
	LoopStopped  LoopState = "stopped"
	LoopIdle     LoopState = "idle"
	LoopFetching LoopState = "fetching"
	LoopBackoff  LoopState = "backoff"
)

var allLoopStates = []string{string(LoopStopped), string(LoopIdle), string(LoopFetching), string(LoopBackoff)}

// MonitorConfig holds the monitor loop intervals.
type MonitorConfig struct {
	// IdleInterval is slept when nothing is monitored.
	IdleInterval time.Duration
	// PollInterval separates successful fetches.
	PollInterval time.Duration
	// DisconnectedBackoff is slept while no client is connected.
	DisconnectedBackoff time.Duration
	// FetchErrorBackoff is slept after a failed fetch.
	FetchErrorBackoff time.Duration
	// IterationErrorBackoff is slept after an unexpected iteration failure.
	IterationErrorBackoff time.Duration
	// MuteFiltered asks the driver to skip muted conversations.
	MuteFiltered bool
}

// DefaultMonitorConfig returns the default intervals.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		IdleInterval:          time.Second,
		PollInterval:          time.Second,
		DisconnectedBackoff:   3 * time.Second,
		FetchErrorBackoff:     2 * time.Second,
		IterationErrorBackoff: 5 * time.Second,
		MuteFiltered:          true,
	}
}

func (c *MonitorConfig) withDefaults() {
	d := DefaultMonitorConfig()
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DisconnectedBackoff <= 0 {
		c.DisconnectedBackoff = d.DisconnectedBackoff
	}
	if c.FetchErrorBackoff <= 0 {
		c.FetchErrorBackoff = d.FetchErrorBackoff
	}
	if c.IterationErrorBackoff <= 0 {
		c.IterationErrorBackoff = d.IterationErrorBackoff
	}
}

// Monitor pulls new messages from the driver, filters and dedups them, and
// feeds the queue.
type Monitor struct {
	state   *State
	queue   *Queue
	dedup   *DedupCache
	clock   Clock
	cfg     MonitorConfig
	metrics *metrics.PrometheusExporter
	logger  *slog.Logger

	loopState atomic.Value // LoopState
	iteration atomic.Uint64
}

// NewMonitor creates a monitor. exporter and logger may be nil.
func NewMonitor(state *State, queue *Queue, dedup *DedupCache, clock Clock, cfg MonitorConfig,
	exporter *metrics.PrometheusExporter, logger *slog.Logger) *Monitor {
	cfg.withDefaults()
	if clock == nil {
		clock = RealClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		state:   state,
		queue:   queue,
		dedup:   dedup,
		clock:   clock,
		cfg:     cfg,
		metrics: exporter,
		logger:  logger.With("component", "monitor"),
	}
	m.loopState.Store(LoopStopped)
	return m
}

// State returns the current loop state.
func (m *Monitor) State() LoopState {
	return m.loopState.Load().(LoopState)
}

// Iterations returns the number of completed loop iterations.
func (m *Monitor) Iterations() uint64 {
	return m.iteration.Load()
}

// Run loops until ctx is done. Failures inside an iteration never end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor: loop started", "monitored", m.state.MonitoredNames())
	defer func() {
		m.setState(LoopStopped)
		m.logger.Info("monitor: loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := m.iterate(ctx)
		m.iteration.Add(1)
		select {
		case <-ctx.Done():
			return nil
		case <-m.clock.After(wait):
		}
	}
}

// iterate runs one pass and returns how long to sleep before the next one.
func (m *Monitor) iterate(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("monitor: iteration panicked", "panic", fmt.Sprint(r))
			m.setState(LoopBackoff)
			wait = m.cfg.IterationErrorBackoff
		}
	}()

	if m.state.MonitoredCount() == 0 {
		m.setState(LoopIdle)
		return m.cfg.IdleInterval
	}

	client := m.state.Client()
	if client == nil {
		m.setState(LoopBackoff)
		m.logger.Debug("monitor: client not connected, pausing")
		return m.cfg.DisconnectedBackoff
	}

	m.setState(LoopFetching)
	batch, err := client.FetchNextMessage(ctx, m.cfg.MuteFiltered)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		m.logger.Warn("monitor: fetch failed", "error", err)
		if m.metrics != nil {
			m.metrics.RecordFetchError()
		}
		m.setState(LoopBackoff)
		return m.cfg.FetchErrorBackoff
	}
	if batch.IsEmpty() {
		return m.cfg.PollInterval
	}

	if m.metrics != nil {
		m.metrics.RecordFetched(len(batch.Messages))
	}
	m.logger.Debug("monitor: batch received", "chat", batch.ChatName, "kind", batch.ChatKind, "count", len(batch.Messages))
	if err := m.route(ctx, batch); err != nil {
		return 0
	}
	return m.cfg.PollInterval
}

// route applies the monitored, self-echo and dedup filters and enqueues the rest.
// It only fails when ctx ends while the queue is full.
func (m *Monitor) route(ctx context.Context, batch *wechat.Batch) error {
	for _, msg := range batch.Messages {
		sender := msg.Sender
		if sender == "" || !m.state.IsMonitored(sender) {
			m.discard(metrics.DiscardUnmonitored)
			continue
		}
		if msg.Direction() == wechat.DirectionSelf {
			m.discard(metrics.DiscardSelf)
			continue
		}
		fp := Fingerprint(sender, msg)
		if m.dedup.Seen(sender, fp) {
			m.logger.Debug("monitor: duplicate skipped", "sender", sender)
			m.discard(metrics.DiscardDuplicate)
			continue
		}

		item := NewItem(sender, batch.ChatKind, msg)
		if err := m.queue.Push(ctx, item); err != nil {
			return err
		}
		m.dedup.Add(sender, fp)
		if m.metrics != nil {
			m.metrics.RecordEnqueued()
			m.metrics.SetQueueDepth(m.queue.Len())
		}
		m.logger.Info("monitor: message queued", "sender", sender, "item", item.ID,
			"preview", strutil.Truncate(msg.Content, 40))
	}
	return nil
}

func (m *Monitor) discard(reason string) {
	if m.metrics != nil {
		m.metrics.RecordDiscarded(reason)
	}
}

func (m *Monitor) setState(s LoopState) {
	if prev, _ := m.loopState.Swap(s).(LoopState); prev == s {
		return
	}
	if m.metrics != nil {
		m.metrics.SetMonitorState(string(s), allLoopStates)
	}
}
