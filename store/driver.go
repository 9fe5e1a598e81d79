package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
// Every method is scoped to a single short-lived statement or transaction.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Contact model related methods.
	UpsertContact(ctx context.Context, upsert *UpsertContact) (*Contact, error)
	ListContacts(ctx context.Context, find *FindContact) ([]*Contact, error)

	// Session model related methods.
	UpsertSession(ctx context.Context, upsert *UpsertSession) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	UpdateSession(ctx context.Context, update *UpdateSession) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	CountMessages(ctx context.Context, find *FindMessage) (int, error)
	ClearSessionMessages(ctx context.Context, tenant, sessionKey string) (int64, error)

	// ReplySuggestion model related methods.
	CreateReplySuggestion(ctx context.Context, create *ReplySuggestion) (*ReplySuggestion, error)
	ListReplySuggestions(ctx context.Context, find *FindReplySuggestion) ([]*ReplySuggestion, error)
	MarkReplySuggestionUsed(ctx context.Context, tenant string, id int64) error
	DeleteReplySuggestions(ctx context.Context, delete *DeleteReplySuggestion) (int64, error)

	// AIConfig model related methods.
	GetAIConfig(ctx context.Context, tenant string) (*AIConfig, error)
	UpsertAIConfig(ctx context.Context, upsert *AIConfig) (*AIConfig, error)
	SetAutoReplyEnabled(ctx context.Context, tenant string, enabled bool) error
	DeleteAIConfig(ctx context.Context, tenant string) error
}
