package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

func (d *DB) UpsertContact(ctx context.Context, upsert *store.UpsertContact) (*store.Contact, error) {
	kind := upsert.Kind
	if kind == "" {
		kind = "friend"
	}
	now := d.unix()
	stmt := `
		INSERT INTO contacts (tenant, name, kind, remark, source, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (tenant, name) DO UPDATE SET
			kind = EXCLUDED.kind,
			remark = EXCLUDED.remark,
			source = EXCLUDED.source,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, tenant, name, kind, remark, source, created_ts, updated_ts
	`
	var c store.Contact
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.Tenant, upsert.Name, kind, upsert.Remark, upsert.Source, now, now,
	).Scan(&c.ID, &c.Tenant, &c.Name, &c.Kind, &c.Remark, &c.Source, &c.CreatedTs, &c.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert contact")
	}
	return &c, nil
}

func (d *DB) ListContacts(ctx context.Context, find *store.FindContact) ([]*store.Contact, error) {
	where, args := []string{"tenant = " + placeholder(1)}, []any{find.Tenant}
	if find.Kind != nil {
		where, args = append(where, "kind = "+placeholder(len(args)+1)), append(args, *find.Kind)
	}
	if find.Name != nil {
		where, args = append(where, "name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}

	query := `SELECT id, tenant, name, kind, remark, source, created_ts, updated_ts
		FROM contacts
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY name ASC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contacts")
	}
	defer rows.Close()

	var list []*store.Contact
	for rows.Next() {
		var c store.Contact
		if err := rows.Scan(&c.ID, &c.Tenant, &c.Name, &c.Kind, &c.Remark, &c.Source, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan contact")
		}
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate contacts")
	}
	return list, nil
}
