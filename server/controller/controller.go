// Package controller is the control surface of the bridge: connection,
// monitoring, AI configuration, history and sending.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/replybridge/ai/metrics"
	"github.com/hrygo/replybridge/ai/reply"
	"github.com/hrygo/replybridge/plugin/wechat"
	"github.com/hrygo/replybridge/server/pipeline"
	"github.com/hrygo/replybridge/store"
)

var errNotConnected = errors.New("chat client not connected")

// Config configures a Controller.
type Config struct {
	Connector wechat.Connector
	Pipeline  pipeline.Config
	Reply     reply.Options

	// SendLimiter paces every outbound message, including auto replies.
	// Nil disables pacing.
	SendLimiter *rate.Limiter

	// HistoryLoadAttempts bounds load-more calls during a refresh.
	HistoryLoadAttempts int
	// HistoryLoadDelay is waited after opening a conversation and between loads.
	HistoryLoadDelay time.Duration

	// Tenant pins the tenant used before an identity is known.
	Tenant string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller owns the shared state and both loops.
type Controller struct {
	store     *store.Store
	state     *pipeline.State
	pipeline  *pipeline.Pipeline
	connector wechat.Connector
	limiter   *rate.Limiter

	historyLoadAttempts int
	historyLoadDelay    time.Duration
	now                 func() time.Time
	logger              *slog.Logger

	// connectMu serializes connect and reconnect; state transitions themselves
	// happen under the State lock.
	connectMu sync.Mutex
	// monitorMu pairs the persisted monitoring flag with the in-memory map.
	monitorMu sync.Mutex

	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// New creates a controller. exporter and logger may be nil.
func New(st *store.Store, cfg Config, exporter *metrics.PrometheusExporter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HistoryLoadAttempts <= 0 {
		cfg.HistoryLoadAttempts = 2
	}
	if cfg.Reply.Logger == nil {
		cfg.Reply.Logger = logger
	}
	cfg.Pipeline.Processor.Limiter = cfg.SendLimiter

	state := pipeline.NewState()
	if cfg.Tenant != "" {
		state.PinTenant(cfg.Tenant)
	}
	engine := reply.NewEngine(st, cfg.Reply)
	loopCtx, loopCancel := context.WithCancel(context.Background())

	return &Controller{
		store:               st,
		state:               state,
		pipeline:            pipeline.New(state, st, engine, cfg.Pipeline, exporter, logger),
		connector:           cfg.Connector,
		limiter:             cfg.SendLimiter,
		historyLoadAttempts: cfg.HistoryLoadAttempts,
		historyLoadDelay:    cfg.HistoryLoadDelay,
		now:                 cfg.Now,
		logger:              logger.With("component", "controller"),
		loopCtx:             loopCtx,
		loopCancel:          loopCancel,
	}
}

// State exposes the shared state.
func (c *Controller) State() *pipeline.State { return c.state }

// Pipeline exposes the loops.
func (c *Controller) Pipeline() *pipeline.Pipeline { return c.pipeline }

// Connect runs disconnected -> connecting -> connected. On entry to connected
// monitoring flags are restored and both loops are ensured running. Calling it
// while connected refreshes an unusable identity and re-ensures the loops.
func (c *Controller) Connect(ctx context.Context) ConnectionStatus {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Controller) connectLocked(ctx context.Context) ConnectionStatus {
	if c.state.Conn() == pipeline.ConnConnected {
		c.refreshIdentity(ctx)
		c.pipeline.EnsureRunning(c.loopCtx)
		return c.status("chat client connected")
	}
	if c.connector == nil {
		return c.statusFailed(errors.New("no connector configured"))
	}
	if !c.state.BeginConnect() {
		return c.statusFailed(errors.New("connection already in progress"))
	}

	client, err := c.connector(ctx)
	if err != nil {
		c.state.SetDisconnected()
		c.logger.Error("controller: connect failed", "error", err)
		return c.statusFailed(errors.Wrap(err, "failed to connect chat client"))
	}

	identity, err := client.MyInfo(ctx)
	if err != nil || !identity.Valid() {
		c.logger.Warn("controller: identity unavailable", "error", err)
		identity = nil
	}
	sessionID := uuid.NewString()
	c.state.SetConnected(client, identity, sessionID)
	c.logger.Info("controller: connected", "session", sessionID, "tenant", c.state.Tenant())

	c.restoreMonitoring(ctx)
	c.pipeline.EnsureRunning(c.loopCtx)
	return c.status("chat client initialized")
}

// Reconnect drops the current client and cached identity, then connects again.
func (c *Controller) Reconnect(ctx context.Context) ConnectionStatus {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if prev := c.state.SetDisconnected(); prev != nil {
		if err := prev.Close(); err != nil {
			c.logger.Warn("controller: failed to close previous client", "error", err)
		}
	}
	return c.connectLocked(ctx)
}

// ConnectionStatus reports the connection and loop liveness.
func (c *Controller) ConnectionStatus() ConnectionStatus {
	if c.state.Conn() != pipeline.ConnConnected {
		return c.status("chat client not connected")
	}
	return c.status("chat client connected")
}

// Shutdown stops both loops and closes the client.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.pipeline.Shutdown(ctx)
	c.loopCancel()
	if prev := c.state.SetDisconnected(); prev != nil {
		_ = prev.Close()
	}
	return err
}

func (c *Controller) refreshIdentity(ctx context.Context) {
	if c.state.Identity().Valid() {
		return
	}
	client := c.state.Client()
	if client == nil {
		return
	}
	identity, err := client.MyInfo(ctx)
	if err != nil || !identity.Valid() {
		c.logger.Warn("controller: identity refresh failed, keeping cache", "error", err)
		return
	}
	c.state.SetConnected(client, identity, c.state.SessionID())
}

// restoreMonitoring merges the persisted monitoring flags into the in-memory map.
func (c *Controller) restoreMonitoring(ctx context.Context) {
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()

	tenant := c.state.Tenant()
	sessions, err := c.store.ListMonitoredSessions(ctx, tenant)
	if err != nil {
		c.logger.Error("controller: failed to restore monitoring", "tenant", tenant, "error", err)
		return
	}
	autoReply := false
	if cfg, err := c.store.GetAIConfig(ctx, tenant); err == nil {
		autoReply = cfg.AutoReplyEnabled
	}

	contacts := c.state.Contacts()
	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = store.SessionName(s.Key)
		}
		if name == "" {
			continue
		}
		contacts[name] = pipeline.ContactState{AutoReply: autoReply, Active: true}
	}
	c.state.ReplaceContacts(contacts)
	c.logger.Info("controller: monitoring restored", "tenant", tenant, "count", len(sessions))
}

func (c *Controller) status(msg string) ConnectionStatus {
	h := c.pipeline.Health()
	st := ConnectionStatus{
		Result:         ok(msg),
		Connected:      c.state.Conn() == pipeline.ConnConnected,
		State:          c.state.Conn(),
		Tenant:         c.state.Tenant(),
		SessionID:      c.state.SessionID(),
		MonitorAlive:   h.MonitorAlive,
		ProcessorAlive: h.ProcessorAlive,
		MonitorState:   h.MonitorState,
		QueueDepth:     h.QueueDepth,
	}
	if id := c.state.Identity(); id != nil {
		st.Nickname = id.Nickname
		st.AccountID = id.AccountID
	}
	return st
}

func (c *Controller) statusFailed(err error) ConnectionStatus {
	st := c.status("")
	st.Result = fail(err)
	return st
}
