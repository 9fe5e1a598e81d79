package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrygo/replybridge/ai/metrics"
	"github.com/hrygo/replybridge/ai/reply"
	"github.com/hrygo/replybridge/store"
)

// DefaultPopTimeout bounds how long the processor waits before rechecking for shutdown.
const DefaultPopTimeout = 60 * time.Second

// Reply modes.
const (
	ModeSent      = "sent"
	ModeSuggested = "suggested"
)

// MessageStore is the persistence the processor needs.
type MessageStore interface {
	UpsertSession(ctx context.Context, upsert *store.UpsertSession) (*store.Session, error)
	CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	GetAIConfig(ctx context.Context, tenant string) (*store.AIConfig, error)
	CreateReplySuggestion(ctx context.Context, create *store.ReplySuggestion) (*store.ReplySuggestion, error)
}

// Replier derives reply text. It must always return a result.
type Replier interface {
	Generate(ctx context.Context, req *reply.Request) *reply.Result
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	PopTimeout time.Duration
	// Limiter paces auto-sent replies. Nil sends without pacing.
	Limiter *rate.Limiter
}

// Processor drains the queue one item at a time: persist, generate, then send
// or store the reply as a suggestion.
type Processor struct {
	state   *State
	queue   *Queue
	store   MessageStore
	replier Replier
	clock   Clock
	cfg     ProcessorConfig
	metrics *metrics.PrometheusExporter
	logger  *slog.Logger
}

// NewProcessor creates a processor. exporter and logger may be nil.
func NewProcessor(state *State, queue *Queue, st MessageStore, replier Replier, clock Clock, cfg ProcessorConfig,
	exporter *metrics.PrometheusExporter, logger *slog.Logger) *Processor {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = DefaultPopTimeout
	}
	if clock == nil {
		clock = RealClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		state:   state,
		queue:   queue,
		store:   st,
		replier: replier,
		clock:   clock,
		cfg:     cfg,
		metrics: exporter,
		logger:  logger.With("component", "processor"),
	}
}

// Run consumes until ctx ends or a sentinel arrives.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("processor: loop started")
	defer p.logger.Info("processor: loop stopped")

	for {
		item, err := p.queue.Pop(ctx, p.cfg.PopTimeout)
		if errors.Is(err, ErrPopTimeout) {
			continue
		}
		if err != nil {
			return nil
		}
		if p.metrics != nil {
			p.metrics.SetQueueDepth(p.queue.Len())
		}
		if item.IsSentinel() {
			p.logger.Info("processor: shutdown requested")
			item.Ack()
			return nil
		}
		p.Handle(ctx, item)
	}
}

// Handle processes one item. Failures are logged and never propagate.
func (p *Processor) Handle(ctx context.Context, item *Item) {
	outcome := metrics.OutcomeError
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processor: item panicked", "item", item.ID, "panic", fmt.Sprint(r))
			outcome = metrics.OutcomeError
		}
		if p.metrics != nil {
			p.metrics.RecordProcessed(outcome)
		}
	}()

	logger := p.logger.With("item", item.ID, "chat", item.ChatName)
	if !p.state.IsMonitored(item.ChatName) {
		logger.Info("processor: conversation no longer monitored, skipped")
		outcome = metrics.OutcomeSkipped
		return
	}

	tenant := p.state.Tenant()
	sessionKey := store.SessionKey(item.ChatName)
	now := p.clock.Now().Unix()

	if _, err := p.store.UpsertSession(ctx, &store.UpsertSession{
		Key:    sessionKey,
		Tenant: tenant,
		Name:   item.ChatName,
		Kind:   item.ChatKind,
		LastTs: now,
	}); err != nil {
		logger.Warn("processor: failed to touch session", "error", err)
	}

	msg := item.Message
	source, err := p.store.CreateMessage(ctx, &store.Message{
		Tenant:       tenant,
		SessionKey:   sessionKey,
		Content:      msg.Content,
		Direction:    store.DirectionPeer,
		Type:         store.MessageType(msg.Kind()),
		Sender:       msg.Sender,
		Attr:         msg.Attr,
		Hash:         msg.Hash,
		OriginalTime: msg.Time,
		Ts:           now,
		Status:       store.MessageStatusReceived,
	})
	if err != nil {
		logger.Error("processor: failed to persist message, dropped", "error", err)
		outcome = metrics.OutcomePersistError
		return
	}

	cfg, err := p.store.GetAIConfig(ctx, tenant)
	if err != nil || cfg == nil {
		logger.Warn("processor: ai config unavailable, reply skipped", "error", err)
		outcome = metrics.OutcomeSkipped
		return
	}

	started := p.clock.Now()
	res := p.replier.Generate(ctx, &reply.Request{
		Tenant:     tenant,
		SessionKey: sessionKey,
		SourceID:   source.ID,
		Content:    msg.Content,
		Config:     cfg,
	})
	if res == nil || res.Text == "" {
		logger.Warn("processor: no reply generated")
		outcome = metrics.OutcomeSkipped
		return
	}
	if p.metrics != nil && res.Stats != nil {
		p.metrics.RecordLLMTokens(cfg.Model, "prompt", res.Stats.PromptTokens)
		p.metrics.RecordLLMTokens(cfg.Model, "completion", res.Stats.CompletionTokens)
	}

	mode := ModeSuggested
	if cfg.AutoReplyEnabled {
		mode = ModeSent
		if err := p.send(ctx, item, source, res.Text); err != nil {
			logger.Error("processor: auto reply failed", "error", err)
			return
		}
	} else if _, err := p.store.CreateReplySuggestion(ctx, &store.ReplySuggestion{
		Tenant:     tenant,
		SessionKey: sessionKey,
		ChatName:   item.ChatName,
		MessageID:  source.ID,
		Content:    res.Text,
	}); err != nil {
		logger.Error("processor: failed to store suggestion", "error", err)
		return
	}

	if p.metrics != nil {
		p.metrics.RecordReply(string(res.Source), mode, p.clock.Now().Sub(started))
	}
	logger.Info("processor: reply handled", "mode", mode, "source", res.Source, "message_id", source.ID)
	outcome = metrics.OutcomeReplied
}

// send dispatches text as a reply to the source message and records it.
func (p *Processor) send(ctx context.Context, item *Item, source *store.Message, text string) error {
	client := p.state.Client()
	if client == nil {
		return errors.New("client not connected")
	}
	if p.cfg.Limiter != nil {
		if err := p.cfg.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	ok, err := client.SendReply(ctx, item.Message, text)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("driver reported send failure")
	}

	if _, err := p.store.CreateMessage(ctx, &store.Message{
		Tenant:     source.Tenant,
		SessionKey: source.SessionKey,
		Content:    text,
		Direction:  store.DirectionSelf,
		Type:       store.MessageTypeText,
		Sender:     "self",
		Attr:       "self",
		Ts:         p.clock.Now().Unix(),
		ReplyTo:    source.ID,
		Status:     store.MessageStatusSent,
	}); err != nil {
		// already delivered; only the local record is missing
		p.logger.Error("processor: failed to persist sent reply", "reply_to", source.ID, "error", err)
	}
	return nil
}
