package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

const sessionColumns = `session_key, tenant, name, kind, last_ts, created_ts, updated_ts, is_monitoring, has_more_history`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*store.Session, error) {
	var session store.Session
	if err := s.Scan(
		&session.Key,
		&session.Tenant,
		&session.Name,
		&session.Kind,
		&session.LastTs,
		&session.CreatedTs,
		&session.UpdatedTs,
		&session.Monitoring,
		&session.HasMoreHistory,
	); err != nil {
		return nil, err
	}
	return &session, nil
}

func (d *DB) UpsertSession(ctx context.Context, upsert *store.UpsertSession) (*store.Session, error) {
	kind := upsert.Kind
	if kind == "" {
		kind = "friend"
	}
	setMonitoring := upsert.Monitoring != nil
	monitoring := setMonitoring && *upsert.Monitoring
	now := d.unix()

	stmt := `
		INSERT INTO sessions (session_key, tenant, name, kind, last_ts, created_ts, updated_ts, is_monitoring)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_key, tenant) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE sessions.name END,
			kind = CASE WHEN ? THEN excluded.kind ELSE sessions.kind END,
			last_ts = MAX(sessions.last_ts, excluded.last_ts),
			updated_ts = excluded.updated_ts,
			is_monitoring = CASE WHEN ? THEN excluded.is_monitoring ELSE sessions.is_monitoring END
		RETURNING ` + sessionColumns
	session, err := scanSession(d.db.QueryRowContext(ctx, stmt,
		upsert.Key, upsert.Tenant, upsert.Name, kind, upsert.LastTs, now, now, monitoring,
		upsert.Kind != "", setMonitoring,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert session")
	}
	return session, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"tenant = ?"}, []any{find.Tenant}
	if find.Key != nil {
		where, args = append(where, "session_key = ?"), append(args, *find.Key)
	}
	if find.Monitoring != nil {
		where, args = append(where, "is_monitoring = ?"), append(args, *find.Monitoring)
	}

	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_ts DESC, session_key ASC`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	var list []*store.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate sessions")
	}
	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) error {
	set, args := []string{"updated_ts = ?"}, []any{d.unix()}
	if update.Monitoring != nil {
		set, args = append(set, "is_monitoring = ?"), append(args, *update.Monitoring)
	}
	if update.HasMoreHistory != nil {
		set, args = append(set, "has_more_history = ?"), append(args, *update.HasMoreHistory)
	}
	args = append(args, update.Tenant, update.Key)

	stmt := `UPDATE sessions SET ` + strings.Join(set, ", ") + ` WHERE tenant = ? AND session_key = ?`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update session")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
