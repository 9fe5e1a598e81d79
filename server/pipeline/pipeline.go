package pipeline

import (
	"context"
	"log/slog"

	"github.com/hrygo/replybridge/ai/metrics"
)

// Config wires the pipeline parts.
type Config struct {
	QueueSize int
	Monitor   MonitorConfig
	Processor ProcessorConfig
	// Clock defaults to RealClock.
	Clock Clock
}

// Health is the liveness of both loops.
type Health struct {
	MonitorAlive   bool
	ProcessorAlive bool
	MonitorState   LoopState
	QueueDepth     int
	MonitorStarts  int
}

// Pipeline owns the queue, the dedup cache and the supervised monitor and
// processor loops over a shared State.
type Pipeline struct {
	state     *State
	queue     *Queue
	dedup     *DedupCache
	monitor   *Monitor
	processor *Processor

	monitorTask   *Task
	processorTask *Task
	logger        *slog.Logger
}

// New assembles a pipeline. exporter and logger may be nil.
func New(state *State, st MessageStore, replier Replier, cfg Config,
	exporter *metrics.PrometheusExporter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	queue := NewQueue(cfg.QueueSize)
	dedup := NewDedupCache()
	p := &Pipeline{
		state:     state,
		queue:     queue,
		dedup:     dedup,
		monitor:   NewMonitor(state, queue, dedup, cfg.Clock, cfg.Monitor, exporter, logger),
		processor: NewProcessor(state, queue, st, replier, cfg.Clock, cfg.Processor, exporter, logger),
		logger:    logger.With("component", "pipeline"),
	}
	p.monitorTask = NewTask("monitor", p.monitor.Run, logger)
	p.processorTask = NewTask("processor", p.processor.Run, logger)
	return p
}

// EnsureRunning starts whichever loop is not alive. Calling it while both
// run is a no-op. ctx bounds the loops' lifetime, not the call.
func (p *Pipeline) EnsureRunning(ctx context.Context) (monitorStarted, processorStarted bool) {
	processorStarted = p.processorTask.Start(ctx)
	monitorStarted = p.monitorTask.Start(ctx)
	if monitorStarted || processorStarted {
		p.logger.Info("pipeline: loops ensured", "monitor_started", monitorStarted, "processor_started", processorStarted)
	}
	return monitorStarted, processorStarted
}

// Health reports loop liveness.
func (p *Pipeline) Health() Health {
	return Health{
		MonitorAlive:   p.monitorTask.Alive(),
		ProcessorAlive: p.processorTask.Alive(),
		MonitorState:   p.monitor.State(),
		QueueDepth:     p.queue.Len(),
		MonitorStarts:  p.monitorTask.Starts(),
	}
}

// Shutdown stops the monitor, then hands the processor a sentinel and waits
// for its acknowledgement. If ctx ends first the processor is cancelled.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if err := p.monitorTask.Stop(ctx); err != nil {
		p.logger.Warn("pipeline: monitor did not stop in time", "error", err)
	}
	if !p.processorTask.Alive() {
		return nil
	}
	if err := p.queue.Shutdown(ctx); err != nil {
		p.logger.Warn("pipeline: processor did not acknowledge shutdown", "error", err, "pending", p.queue.Len())
		_ = p.processorTask.Stop(ctx)
		return err
	}
	if done := p.processorTask.Done(); done != nil {
		<-done
	}
	return nil
}

// State returns the shared state.
func (p *Pipeline) State() *State { return p.state }

// Dedup returns the fingerprint cache.
func (p *Pipeline) Dedup() *DedupCache { return p.dedup }

// Queue returns the message queue.
func (p *Pipeline) Queue() *Queue { return p.queue }
