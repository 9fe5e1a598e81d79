package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/replybridge/internal/profile"
	"github.com/hrygo/replybridge/store"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestNewDB_Validation(t *testing.T) {
	_, err := NewDB(nil)
	assert.Error(t, err)
	_, err = NewDB(&profile.Profile{})
	assert.Error(t, err)
}

// TestIntegration runs against a live server named by REPLYBRIDGE_TEST_POSTGRES_DSN.
func TestIntegration(t *testing.T) {
	dsn := os.Getenv("REPLYBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REPLYBRIDGE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	p := &profile.Profile{Driver: "postgres", DSN: dsn}
	driver, err := NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(ctx))

	s, err := store.New(driver, p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	tenant := fmt.Sprintf("it_%d", time.Now().UnixNano())
	key := store.SessionKey("Alice")

	require.NoError(t, s.SetMonitoring(ctx, tenant, "Alice", true))
	monitored, err := s.ListMonitoredSessions(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, monitored, 1)

	m, err := s.CreateMessage(ctx, &store.Message{Tenant: tenant, SessionKey: key, Content: "Hi", Direction: store.DirectionPeer})
	require.NoError(t, err)
	_, err = s.CreateReplySuggestion(ctx, &store.ReplySuggestion{Tenant: tenant, SessionKey: key, MessageID: m.ID, Content: "Hello"})
	require.NoError(t, err)

	list, err := s.ListReplySuggestions(ctx, &store.FindReplySuggestion{Tenant: tenant})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hi", list[0].SourceContent)

	require.NoError(t, s.SetAutoReplyEnabled(ctx, tenant, true))
	cfg, err := s.GetAIConfig(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, cfg.AutoReplyEnabled)
	assert.Equal(t, store.DefaultModel, cfg.Model)

	deleted, err := s.ClearSessionMessages(ctx, tenant, key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	require.NoError(t, s.DeleteAIConfig(ctx, tenant))
}
