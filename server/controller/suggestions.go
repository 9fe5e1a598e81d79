package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

// ListReplySuggestions returns the newest suggestions, optionally for one conversation.
func (c *Controller) ListReplySuggestions(ctx context.Context, name string, limit int) SuggestionsResult {
	find := &store.FindReplySuggestion{Tenant: c.state.Tenant()}
	if name = strings.TrimSpace(name); name != "" {
		key := store.SessionKey(name)
		find.SessionKey = &key
	}
	if limit > 0 {
		find.Limit = &limit
	}
	list, err := c.store.ListReplySuggestions(ctx, find)
	if err != nil {
		return SuggestionsResult{Result: fail(err)}
	}
	return SuggestionsResult{Result: ok(""), Suggestions: list}
}

// MarkSuggestionUsed flags a suggestion as taken by the operator.
func (c *Controller) MarkSuggestionUsed(ctx context.Context, id int64) Result {
	err := c.store.MarkReplySuggestionUsed(ctx, c.state.Tenant(), id)
	if errors.Is(err, store.ErrNotFound) {
		return failMsg("suggestion not found")
	}
	if err != nil {
		return fail(err)
	}
	return ok("Suggestion marked as used")
}

// PruneReplySuggestions deletes suggestions older than maxAge.
func (c *Controller) PruneReplySuggestions(ctx context.Context, maxAge time.Duration) Result {
	if maxAge <= 0 {
		return failMsg("max age must be positive")
	}
	cutoff := c.now().Add(-maxAge).Unix()
	n, err := c.store.DeleteReplySuggestions(ctx, &store.DeleteReplySuggestion{
		Tenant:        c.state.Tenant(),
		CreatedBefore: cutoff,
	})
	if err != nil {
		return fail(errors.Wrap(err, "failed to prune suggestions"))
	}
	return ok(fmt.Sprintf("Pruned %d suggestions", n))
}
