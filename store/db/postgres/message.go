package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

const messageColumns = `id, tenant, session_key, content, direction, msg_type, sender, attr, hash, original_time, ts, reply_to, status, created_ts`

func scanMessage(s scanner) (*store.Message, error) {
	var m store.Message
	var direction, msgType string
	if err := s.Scan(
		&m.ID, &m.Tenant, &m.SessionKey, &m.Content, &direction, &msgType,
		&m.Sender, &m.Attr, &m.Hash, &m.OriginalTime, &m.Ts, &m.ReplyTo, &m.Status, &m.CreatedTs,
	); err != nil {
		return nil, err
	}
	m.Direction = store.Direction(direction)
	m.Type = store.MessageType(msgType)
	return &m, nil
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	now := d.unix()
	ts := create.Ts
	if ts == 0 {
		ts = now
	}
	msgType := create.Type
	if msgType == "" {
		msgType = store.MessageTypeText
	}

	stmt := `
		INSERT INTO messages (tenant, session_key, content, direction, msg_type, sender, attr, hash, original_time, ts, reply_to, status, created_ts)
		VALUES (` + placeholders(13) + `)
		RETURNING ` + messageColumns
	m, err := scanMessage(d.db.QueryRowContext(ctx, stmt,
		create.Tenant, create.SessionKey, create.Content, string(create.Direction), string(msgType),
		create.Sender, create.Attr, create.Hash, create.OriginalTime, ts, create.ReplyTo, create.Status, now,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return m, nil
}

func messageFilter(find *store.FindMessage) ([]string, []any) {
	where, args := []string{"tenant = $1", "session_key = $2"}, []any{find.Tenant, find.SessionKey}
	if find.BeforeID != nil {
		where, args = append(where, "id < "+placeholder(len(args)+1)), append(args, *find.BeforeID)
	}
	if find.ExcludeType != nil {
		where, args = append(where, "msg_type != "+placeholder(len(args)+1)), append(args, string(*find.ExcludeType))
	}
	return where, args
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := messageFilter(find)

	order := "ASC"
	if find.Descending {
		order = "DESC"
	}
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id ` + order
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var list []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}
	return list, nil
}

func (d *DB) CountMessages(ctx context.Context, find *store.FindMessage) (int, error) {
	where, args := messageFilter(find)
	var count int
	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+strings.Join(where, " AND "), args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count messages")
	}
	return count, nil
}

func (d *DB) ClearSessionMessages(ctx context.Context, tenant, sessionKey string) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reply_suggestions WHERE tenant = $1 AND session_key = $2`, tenant, sessionKey); err != nil {
		return 0, errors.Wrap(err, "failed to delete reply suggestions")
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE tenant = $1 AND session_key = $2`, tenant, sessionKey)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete messages")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET has_more_history = TRUE, updated_ts = $1 WHERE tenant = $2 AND session_key = $3`,
		d.unix(), tenant, sessionKey); err != nil {
		return 0, errors.Wrap(err, "failed to reset session history flag")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}
	return deleted, nil
}
