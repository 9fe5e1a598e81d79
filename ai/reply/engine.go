// Package reply derives reply text for inbound chat messages.
package reply

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/replybridge/ai/llm"
	"github.com/hrygo/replybridge/store"
)

// DefaultSystemPrompt is the persona used when a tenant configures none.
const DefaultSystemPrompt = "You are a professional sales assistant replying to customer messages. " +
	"Give a helpful reply based on the customer's message."

// DefaultHistoryLimit is the number of prior turns sent with each request.
const DefaultHistoryLimit = 10

const cannedReplyPrefix = "Auto-reply: received your message — "

// Source tells where a reply came from.
type Source string

const (
	SourceLLM    Source = "llm"
	SourceCanned Source = "canned"
)

// CannedReply is the deterministic fallback for content.
func CannedReply(content string) string {
	return cannedReplyPrefix + content
}

// HistorySource loads prior turns of a conversation, oldest first.
type HistorySource interface {
	RecentHistory(ctx context.Context, tenant, sessionKey string, beforeID int64, limit int) ([]*store.Message, error)
}

// Request describes one message to answer.
type Request struct {
	Tenant     string
	SessionKey string
	// SourceID is the stored id of the message being answered. History is read strictly before it.
	SourceID int64
	Content  string
	Config   *store.AIConfig
}

// Result is the reply and where it came from.
type Result struct {
	Text     string
	Source   Source
	Endpoint string
	Stats    *llm.CallStats
}

// Options configures an Engine.
type Options struct {
	// DefaultBaseURL is used when the tenant configures no base URL.
	DefaultBaseURL string
	// FallbackURLs are tried in order after the primary endpoint fails.
	FallbackURLs []string
	Timeout      time.Duration
	HistoryLimit int

	// NewService builds the client for one endpoint. Defaults to llm.NewService.
	NewService func(*llm.Config) (llm.Service, error)
	Logger     *slog.Logger
}

// Engine produces replies with provider fallback. Generate never fails.
type Engine struct {
	history      HistorySource
	defaultURL   string
	fallbacks    []string
	timeout      time.Duration
	historyLimit int
	newService   func(*llm.Config) (llm.Service, error)
	logger       *slog.Logger
}

// NewEngine creates an Engine. history may be nil, in which case no prior turns are sent.
func NewEngine(history HistorySource, opts Options) *Engine {
	e := &Engine{
		history:      history,
		defaultURL:   opts.DefaultBaseURL,
		fallbacks:    opts.FallbackURLs,
		timeout:      opts.Timeout,
		historyLimit: opts.HistoryLimit,
		newService:   opts.NewService,
		logger:       opts.Logger,
	}
	if e.historyLimit <= 0 {
		e.historyLimit = DefaultHistoryLimit
	}
	if e.newService == nil {
		e.newService = llm.NewService
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "reply")
	return e
}

// Generate returns reply text for req. Missing credentials and provider
// failures both yield the canned reply.
func (e *Engine) Generate(ctx context.Context, req *Request) *Result {
	canned := &Result{Text: CannedReply(req.Content), Source: SourceCanned}
	if !req.Config.HasCredential() {
		return canned
	}

	messages := llm.FormatMessages(e.systemPrompt(req.Config), req.Content, e.loadHistory(ctx, req))
	for _, endpoint := range e.Endpoints(req.Config.BaseURL) {
		if ctx.Err() != nil {
			break
		}
		svc, err := e.newService(&llm.Config{
			Model:       req.Config.Model,
			APIKey:      req.Config.APIKey,
			BaseURL:     endpoint,
			MaxTokens:   req.Config.MaxTokens,
			Temperature: float32(req.Config.Temperature),
			Timeout:     e.timeout,
		})
		if err != nil {
			e.logger.Warn("reply: invalid endpoint", "endpoint", endpoint, "error", err)
			continue
		}
		text, stats, err := svc.Chat(ctx, messages)
		if err != nil {
			e.logger.Warn("reply: provider failed", "endpoint", endpoint, "error", err)
			continue
		}
		return &Result{Text: text, Source: SourceLLM, Endpoint: endpoint, Stats: stats}
	}

	e.logger.Error("reply: all providers failed, using canned reply", "tenant", req.Tenant, "session", req.SessionKey)
	return canned
}

// Endpoints returns the ordered, de-duplicated list of base URLs to try.
func (e *Engine) Endpoints(configured string) []string {
	primary := llm.NormalizeBaseURL(configured)
	if primary == "" {
		primary = llm.NormalizeBaseURL(e.defaultURL)
	}

	seen := make(map[string]struct{}, len(e.fallbacks)+1)
	out := make([]string, 0, len(e.fallbacks)+1)
	for _, u := range append([]string{primary}, e.fallbacks...) {
		u = llm.NormalizeBaseURL(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (e *Engine) systemPrompt(cfg *store.AIConfig) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	return DefaultSystemPrompt
}

// loadHistory maps stored turns to chat roles. A failed load sends no history.
func (e *Engine) loadHistory(ctx context.Context, req *Request) []llm.Message {
	if e.history == nil || req.SessionKey == "" {
		return nil
	}
	list, err := e.history.RecentHistory(ctx, req.Tenant, req.SessionKey, req.SourceID, e.historyLimit)
	if err != nil {
		e.logger.Warn("reply: failed to load history", "session", req.SessionKey, "error", err)
		return nil
	}
	out := make([]llm.Message, 0, len(list))
	for _, m := range list {
		if m.Content == "" || m.Type == store.MessageTypeTimeMarker {
			continue
		}
		if m.Direction == store.DirectionSelf {
			out = append(out, llm.AssistantMessage(m.Content))
		} else {
			out = append(out, llm.UserMessage(m.Content))
		}
	}
	return out
}
