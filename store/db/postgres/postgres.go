package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/internal/profile"
	"github.com/hrygo/replybridge/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	now     func() time.Time
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db: db, profile: profile, now: time.Now}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) unix() int64 {
	return d.now().Unix()
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id BIGSERIAL PRIMARY KEY,
		tenant TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'friend',
		remark TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL,
		UNIQUE (tenant, name)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT NOT NULL,
		tenant TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'friend',
		last_ts BIGINT NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL,
		is_monitoring BOOLEAN NOT NULL DEFAULT FALSE,
		has_more_history BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (session_key, tenant)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		tenant TEXT NOT NULL,
		session_key TEXT NOT NULL,
		content TEXT NOT NULL,
		direction TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		attr TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL DEFAULT '',
		original_time TEXT NOT NULL DEFAULT '',
		ts BIGINT NOT NULL,
		reply_to BIGINT NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (tenant, session_key, id)`,
	`CREATE TABLE IF NOT EXISTS reply_suggestions (
		id BIGSERIAL PRIMARY KEY,
		tenant TEXT NOT NULL,
		session_key TEXT NOT NULL,
		chat_name TEXT NOT NULL DEFAULT '',
		message_id BIGINT NOT NULL,
		content TEXT NOT NULL,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reply_suggestions_session ON reply_suggestions (tenant, session_key)`,
	`CREATE TABLE IF NOT EXISTS ai_sales_config (
		tenant TEXT PRIMARY KEY,
		api_key TEXT,
		base_url TEXT,
		model TEXT,
		temperature DOUBLE PRECISION,
		max_tokens INTEGER,
		system_prompt TEXT,
		user_prompt TEXT,
		auto_reply_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (d *DB) Migrate(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migration")
	}
	return nil
}
