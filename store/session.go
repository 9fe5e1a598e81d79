package store

import (
	"context"
	"strings"
)

// sessionKeyPrefix marks one-to-one conversations.
const sessionKeyPrefix = "peer:"

// SessionKey derives the conversation key for a peer name.
func SessionKey(name string) string {
	return sessionKeyPrefix + name
}

// SessionName recovers the peer name from a key produced by SessionKey.
func SessionName(key string) string {
	return strings.TrimPrefix(key, sessionKeyPrefix)
}

// Session is the persisted metadata of one conversation.
type Session struct {
	Key            string
	Tenant         string
	Name           string
	Kind           string
	LastTs         int64
	CreatedTs      int64
	UpdatedTs      int64
	Monitoring     bool
	HasMoreHistory bool
}

// UpsertSession creates the session or refreshes its name, kind and last activity.
// Monitoring is only written when set.
type UpsertSession struct {
	Key        string
	Tenant     string
	Name       string
	Kind       string
	LastTs     int64
	Monitoring *bool
}

type FindSession struct {
	Tenant     string
	Key        *string
	Monitoring *bool
}

type UpdateSession struct {
	Tenant         string
	Key            string
	Monitoring     *bool
	HasMoreHistory *bool
}

func (s *Store) UpsertSession(ctx context.Context, upsert *UpsertSession) (*Session, error) {
	return s.driver.UpsertSession(ctx, upsert)
}

func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.ListSessions(ctx, find)
}

// GetSession returns the session or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, tenant, key string) (*Session, error) {
	list, err := s.driver.ListSessions(ctx, &FindSession{Tenant: tenant, Key: &key})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// SetMonitoring flips the persisted monitoring flag, creating the session when absent.
func (s *Store) SetMonitoring(ctx context.Context, tenant, name string, monitoring bool) error {
	_, err := s.driver.UpsertSession(ctx, &UpsertSession{
		Key:        SessionKey(name),
		Tenant:     tenant,
		Name:       name,
		Monitoring: &monitoring,
	})
	return err
}

// ListMonitoredSessions returns every session flagged for monitoring.
func (s *Store) ListMonitoredSessions(ctx context.Context, tenant string) ([]*Session, error) {
	monitoring := true
	return s.driver.ListSessions(ctx, &FindSession{Tenant: tenant, Monitoring: &monitoring})
}

func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) error {
	return s.driver.UpdateSession(ctx, update)
}
