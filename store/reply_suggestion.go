package store

import "context"

// ReplySuggestion is a generated reply held for human approval.
type ReplySuggestion struct {
	ID         int64
	Tenant     string
	SessionKey string
	ChatName   string
	MessageID  int64
	Content    string
	Used       bool
	CreatedTs  int64

	// SourceContent is the content of the message being answered. Populated by lists.
	SourceContent string
}

type FindReplySuggestion struct {
	Tenant     string
	SessionKey *string
	Used       *bool
	Limit      *int
}

type DeleteReplySuggestion struct {
	Tenant string
	// CreatedBefore deletes suggestions created strictly before this unix time.
	CreatedBefore int64
}

func (s *Store) CreateReplySuggestion(ctx context.Context, create *ReplySuggestion) (*ReplySuggestion, error) {
	return s.driver.CreateReplySuggestion(ctx, create)
}

func (s *Store) ListReplySuggestions(ctx context.Context, find *FindReplySuggestion) ([]*ReplySuggestion, error) {
	return s.driver.ListReplySuggestions(ctx, find)
}

// MarkReplySuggestionUsed returns ErrNotFound when no suggestion matches.
func (s *Store) MarkReplySuggestionUsed(ctx context.Context, tenant string, id int64) error {
	return s.driver.MarkReplySuggestionUsed(ctx, tenant, id)
}

func (s *Store) DeleteReplySuggestions(ctx context.Context, delete *DeleteReplySuggestion) (int64, error) {
	return s.driver.DeleteReplySuggestions(ctx, delete)
}
