package store

import "context"

// Contact is a peer known to the logged-in account.
type Contact struct {
	ID        int64
	Tenant    string
	Name      string
	Kind      string // friend, group
	Remark    string
	Source    string
	CreatedTs int64
	UpdatedTs int64
}

type UpsertContact struct {
	Tenant string
	Name   string
	Kind   string
	Remark string
	Source string
}

type FindContact struct {
	Tenant string
	Kind   *string
	Name   *string
	Limit  *int
}

func (s *Store) UpsertContact(ctx context.Context, upsert *UpsertContact) (*Contact, error) {
	return s.driver.UpsertContact(ctx, upsert)
}

func (s *Store) ListContacts(ctx context.Context, find *FindContact) ([]*Contact, error) {
	return s.driver.ListContacts(ctx, find)
}
