package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

// StartMonitoring watches name: the persisted flag is set, the conversation
// joins the in-memory map and both loops are ensured running.
func (c *Controller) StartMonitoring(ctx context.Context, name string, autoReply bool) Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return failMsg("conversation name is required")
	}
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()

	tenant := c.state.Tenant()
	if err := c.store.SetMonitoring(ctx, tenant, name, true); err != nil {
		c.logger.Error("controller: failed to persist monitoring flag", "name", name, "error", err)
		return fail(errors.Wrap(err, "failed to start monitoring"))
	}
	c.recordContact(ctx, tenant, name)
	c.state.AddContact(name, autoReply)
	c.pipeline.EnsureRunning(c.loopCtx)

	c.logger.Info("controller: monitoring started", "name", name, "auto_reply", autoReply)
	return ok(fmt.Sprintf("Started monitoring %s", name))
}

// StopMonitoring unwatches name. With nothing left to watch the monitor loop
// idles rather than exiting.
func (c *Controller) StopMonitoring(ctx context.Context, name string) Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return failMsg("conversation name is required")
	}
	c.monitorMu.Lock()
	defer c.monitorMu.Unlock()

	if err := c.store.SetMonitoring(ctx, c.state.Tenant(), name, false); err != nil {
		c.logger.Error("controller: failed to persist monitoring flag", "name", name, "error", err)
		return fail(errors.Wrap(err, "failed to stop monitoring"))
	}
	remaining := c.state.RemoveContact(name)
	c.pipeline.Dedup().Forget(name)

	c.logger.Info("controller: monitoring stopped", "name", name, "remaining", remaining)
	return ok(fmt.Sprintf("Stopped monitoring %s", name))
}

// GetMonitoringStatus reads the persisted monitoring flag of name.
func (c *Controller) GetMonitoringStatus(ctx context.Context, name string) MonitoringStatus {
	session, err := c.store.GetSession(ctx, c.state.Tenant(), store.SessionKey(name))
	if errors.Is(err, store.ErrNotFound) {
		return MonitoringStatus{Result: ok("")}
	}
	if err != nil {
		return MonitoringStatus{Result: fail(err)}
	}
	return MonitoringStatus{Result: ok(""), IsMonitoring: session.Monitoring}
}

// ToggleAutoReply persists the tenant auto-reply flag.
func (c *Controller) ToggleAutoReply(ctx context.Context, enabled bool) Result {
	if err := c.store.SetAutoReplyEnabled(ctx, c.state.Tenant(), enabled); err != nil {
		c.logger.Error("controller: failed to toggle auto reply", "error", err)
		return fail(errors.Wrap(err, "failed to toggle auto reply"))
	}
	c.state.SetAllAutoReply(enabled)
	word := "disabled"
	if enabled {
		word = "enabled"
	}
	return ok(fmt.Sprintf("Auto reply %s", word))
}

// GetAutoReplyStatus returns the persisted tenant flag and the watched conversations.
func (c *Controller) GetAutoReplyStatus(ctx context.Context) AutoReplyStatus {
	cfg, err := c.store.GetAIConfig(ctx, c.state.Tenant())
	if err != nil {
		return AutoReplyStatus{Result: fail(err)}
	}
	return AutoReplyStatus{
		Result:            ok(""),
		Enabled:           cfg.AutoReplyEnabled,
		MonitoredContacts: c.state.Contacts(),
	}
}
