package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

// SendMessage sends text to name and records it as a self message.
func (c *Controller) SendMessage(ctx context.Context, name, text string) Result {
	if err := c.send(ctx, name, text); err != nil {
		c.logger.Warn("controller: send failed", "name", name, "error", err)
		return fail(err)
	}
	return ok(fmt.Sprintf("Sent to %s", strings.TrimSpace(name)))
}

// BulkSend sends the same text to every name in order, paced by the send limiter.
func (c *Controller) BulkSend(ctx context.Context, names []string, text string) BulkSendResult {
	if strings.TrimSpace(text) == "" {
		return BulkSendResult{Result: failMsg("message is empty")}
	}
	if len(names) == 0 {
		return BulkSendResult{Result: failMsg("no recipients")}
	}

	var res BulkSendResult
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, name)
			continue
		}
		if err := c.send(ctx, name, text); err != nil {
			c.logger.Warn("controller: bulk send failed", "name", name, "error", err)
			res.Failed = append(res.Failed, name)
			continue
		}
		res.Sent++
	}
	res.Result = Result{
		Success: res.Sent > 0,
		Message: fmt.Sprintf("Sent to %d/%d contacts", res.Sent, len(names)),
	}
	return res
}

func (c *Controller) send(ctx context.Context, name, text string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("conversation name is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("message is empty")
	}
	client := c.state.Client()
	if client == nil {
		return errNotConnected
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "send pacing interrupted")
		}
	}

	sent, err := client.Send(ctx, name, text)
	if err != nil {
		return errors.Wrapf(err, "failed to send to %s", name)
	}
	if !sent {
		return errors.Errorf("client refused message to %s", name)
	}

	tenant := c.state.Tenant()
	key := store.SessionKey(name)
	now := c.now().Unix()
	if _, err := c.store.UpsertSession(ctx, &store.UpsertSession{Key: key, Tenant: tenant, Name: name, LastTs: now}); err != nil {
		c.logger.Warn("controller: failed to upsert session", "name", name, "error", err)
	}
	if _, err := c.store.CreateMessage(ctx, &store.Message{
		Tenant:     tenant,
		SessionKey: key,
		Content:    text,
		Direction:  store.DirectionSelf,
		Type:       store.MessageTypeText,
		Sender:     "self",
		Attr:       "self",
		Ts:         now,
		Status:     store.MessageStatusSent,
	}); err != nil {
		c.logger.Error("controller: failed to persist sent message", "name", name, "error", err)
	}
	return nil
}
