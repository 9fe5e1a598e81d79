package controller

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

// contactSourceMonitor marks contacts recorded when monitoring starts.
const contactSourceMonitor = "monitor"

// ListContacts returns the stored contacts of the tenant, optionally of one
// kind, annotated with the in-memory monitoring map.
func (c *Controller) ListContacts(ctx context.Context, kind string) ContactsResult {
	find := &store.FindContact{Tenant: c.state.Tenant()}
	if kind = strings.TrimSpace(kind); kind != "" {
		find.Kind = &kind
	}
	list, err := c.store.ListContacts(ctx, find)
	if err != nil {
		return ContactsResult{Result: fail(errors.Wrap(err, "failed to list contacts"))}
	}

	watched := c.state.Contacts()
	views := make([]*ContactView, 0, len(list))
	for _, ct := range list {
		entry, ok := watched[ct.Name]
		views = append(views, &ContactView{Contact: ct, Monitoring: ok, AutoReply: entry.AutoReply})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Monitoring && !views[j].Monitoring
	})
	return ContactsResult{Result: ok(""), Contacts: views}
}

func (c *Controller) recordContact(ctx context.Context, tenant, name string) {
	if _, err := c.store.UpsertContact(ctx, &store.UpsertContact{
		Tenant: tenant,
		Name:   name,
		Kind:   "friend",
		Source: contactSourceMonitor,
	}); err != nil {
		c.logger.Warn("controller: failed to record contact", "name", name, "error", err)
	}
}
