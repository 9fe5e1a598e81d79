package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/plugin/wechat"
	"github.com/hrygo/replybridge/store"
)

// Paging defaults for GetMessages.
const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

// clockLayouts are the time-of-day formats the client renders next to messages.
var clockLayouts = []string{"15:04", "15:04:05"}

// GetMessages returns page of a conversation's stored history, oldest first
// within the page. Page 1 holds the newest messages.
func (c *Controller) GetMessages(ctx context.Context, name string, page, perPage int) MessagesResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return MessagesResult{Result: failMsg("conversation name is required")}
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	tenant := c.state.Tenant()
	key := store.SessionKey(name)
	offset := (page - 1) * perPage
	msgs, err := c.store.ListMessages(ctx, &store.FindMessage{
		Tenant:     tenant,
		SessionKey: key,
		Limit:      &perPage,
		Offset:     &offset,
		Descending: true,
	})
	if err != nil {
		return MessagesResult{Result: fail(errors.Wrap(err, "failed to list messages"))}
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	total, err := c.store.CountMessages(ctx, &store.FindMessage{Tenant: tenant, SessionKey: key})
	if err != nil {
		return MessagesResult{Result: fail(errors.Wrap(err, "failed to count messages"))}
	}
	suggestions, err := c.store.ListReplySuggestions(ctx, &store.FindReplySuggestion{Tenant: tenant, SessionKey: &key})
	if err != nil {
		c.logger.Warn("controller: failed to list suggestions", "name", name, "error", err)
	}

	return MessagesResult{
		Result:      ok(""),
		Messages:    msgs,
		Total:       total,
		HasMore:     total > page*perPage,
		Suggestions: suggestions,
	}
}

// ClearChatMessages deletes the stored history of a conversation.
func (c *Controller) ClearChatMessages(ctx context.Context, name string) Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return failMsg("conversation name is required")
	}
	n, err := c.store.ClearSessionMessages(ctx, c.state.Tenant(), store.SessionKey(name))
	if err != nil {
		return fail(errors.Wrap(err, "failed to clear messages"))
	}
	return ok(fmt.Sprintf("Cleared %d messages", n))
}

// RefreshChatMessages replaces the stored history of name with what the client
// currently renders, after scrolling back a bounded number of pages.
func (c *Controller) RefreshChatMessages(ctx context.Context, name string) MessagesResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return MessagesResult{Result: failMsg("conversation name is required")}
	}
	client := c.state.Client()
	if client == nil {
		return MessagesResult{Result: fail(errNotConnected)}
	}
	tenant := c.state.Tenant()
	key := store.SessionKey(name)
	logger := c.logger.With("name", name)

	if _, err := c.store.ClearSessionMessages(ctx, tenant, key); err != nil {
		return MessagesResult{Result: fail(errors.Wrap(err, "failed to clear messages"))}
	}

	opened, err := client.OpenConversation(ctx, name)
	if err != nil {
		return MessagesResult{Result: fail(errors.Wrap(err, "failed to open conversation"))}
	}
	if !opened {
		return MessagesResult{Result: failMsg(fmt.Sprintf("could not open conversation %s", name))}
	}
	if _, err := c.store.UpsertSession(ctx, &store.UpsertSession{
		Key:    key,
		Tenant: tenant,
		Name:   name,
		LastTs: c.now().Unix(),
	}); err != nil {
		logger.Warn("controller: failed to upsert session", "error", err)
	}

	if err := c.sleep(ctx, 3*c.historyLoadDelay); err != nil {
		return MessagesResult{Result: fail(err)}
	}

	for attempt := 0; attempt < c.historyLoadAttempts; attempt++ {
		res, err := client.LoadMoreHistory(ctx)
		if err != nil {
			logger.Warn("controller: load more history failed", "attempt", attempt, "error", err)
			break
		}
		if wechat.IsNoMoreHistory(res) {
			noMore := false
			if err := c.store.UpdateSession(ctx, &store.UpdateSession{Tenant: tenant, Key: key, HasMoreHistory: &noMore}); err != nil {
				logger.Warn("controller: failed to record history end", "error", err)
			}
			break
		}
		if err := c.sleep(ctx, c.historyLoadDelay); err != nil {
			return MessagesResult{Result: fail(err)}
		}
	}

	raw, err := client.FetchAllMessages(ctx)
	if err != nil {
		return MessagesResult{Result: fail(errors.Wrap(err, "failed to fetch messages"))}
	}
	if len(raw) == 0 {
		return MessagesResult{Result: failMsg("no messages found")}
	}

	saved := 0
	for i, m := range raw {
		if m == nil {
			continue
		}
		if _, err := c.store.CreateMessage(ctx, c.historyMessage(tenant, key, m, i)); err != nil {
			logger.Error("controller: failed to save history message", "index", i, "error", err)
			continue
		}
		saved++
	}
	logger.Info("controller: history refreshed", "fetched", len(raw), "saved", saved)

	result := c.GetMessages(ctx, name, 1, DefaultPerPage)
	result.Fetched = len(raw)
	if result.Success {
		result.Message = fmt.Sprintf("Loaded %d messages", saved)
	}
	return result
}

func (c *Controller) historyMessage(tenant, key string, m *wechat.Message, index int) *store.Message {
	direction := store.DirectionPeer
	status := store.MessageStatusReceived
	if m.Direction() == wechat.DirectionSelf {
		direction = store.DirectionSelf
		status = store.MessageStatusSent
	}
	return &store.Message{
		Tenant:       tenant,
		SessionKey:   key,
		Content:      m.Content,
		Direction:    direction,
		Type:         store.MessageType(m.Kind()),
		Sender:       m.Sender,
		Attr:         m.Attr,
		Hash:         m.Hash,
		OriginalTime: m.Time,
		Ts:           c.messageTimestamp(m.Time) + int64(index),
		Status:       status,
	}
}

// messageTimestamp places a rendered time of day on today's date. Anything
// unparseable maps to now.
func (c *Controller) messageTimestamp(rendered string) int64 {
	now := c.now()
	rendered = strings.TrimSpace(rendered)
	for _, layout := range clockLayouts {
		t, err := time.ParseInLocation(layout, rendered, now.Location())
		if err != nil {
			continue
		}
		return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location()).Unix()
	}
	return now.Unix()
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
