package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

func (d *DB) CreateReplySuggestion(ctx context.Context, create *store.ReplySuggestion) (*store.ReplySuggestion, error) {
	stmt := `
		INSERT INTO reply_suggestions (tenant, session_key, chat_name, message_id, content, used, created_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id, tenant, session_key, chat_name, message_id, content, used, created_ts
	`
	var rs store.ReplySuggestion
	err := d.db.QueryRowContext(ctx, stmt,
		create.Tenant, create.SessionKey, create.ChatName, create.MessageID, create.Content, create.Used, d.unix(),
	).Scan(&rs.ID, &rs.Tenant, &rs.SessionKey, &rs.ChatName, &rs.MessageID, &rs.Content, &rs.Used, &rs.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reply suggestion")
	}
	return &rs, nil
}

func (d *DB) ListReplySuggestions(ctx context.Context, find *store.FindReplySuggestion) ([]*store.ReplySuggestion, error) {
	where, args := []string{"rs.tenant = $1"}, []any{find.Tenant}
	if find.SessionKey != nil {
		where, args = append(where, "rs.session_key = "+placeholder(len(args)+1)), append(args, *find.SessionKey)
	}
	if find.Used != nil {
		where, args = append(where, "rs.used = "+placeholder(len(args)+1)), append(args, *find.Used)
	}

	query := `SELECT rs.id, rs.tenant, rs.session_key, rs.chat_name, rs.message_id, rs.content, rs.used, rs.created_ts,
			COALESCE(m.content, '')
		FROM reply_suggestions rs
		LEFT JOIN messages m ON m.id = rs.message_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY rs.created_ts DESC, rs.id DESC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reply suggestions")
	}
	defer rows.Close()

	var list []*store.ReplySuggestion
	for rows.Next() {
		var rs store.ReplySuggestion
		if err := rows.Scan(&rs.ID, &rs.Tenant, &rs.SessionKey, &rs.ChatName, &rs.MessageID, &rs.Content, &rs.Used, &rs.CreatedTs,
			&rs.SourceContent); err != nil {
			return nil, errors.Wrap(err, "failed to scan reply suggestion")
		}
		list = append(list, &rs)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate reply suggestions")
	}
	return list, nil
}

func (d *DB) MarkReplySuggestionUsed(ctx context.Context, tenant string, id int64) error {
	result, err := d.db.ExecContext(ctx, `UPDATE reply_suggestions SET used = TRUE WHERE tenant = $1 AND id = $2`, tenant, id)
	if err != nil {
		return errors.Wrap(err, "failed to mark reply suggestion used")
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

func (d *DB) DeleteReplySuggestions(ctx context.Context, delete *store.DeleteReplySuggestion) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM reply_suggestions WHERE tenant = $1 AND created_ts < $2`, delete.Tenant, delete.CreatedBefore)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete reply suggestions")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return n, nil
}
