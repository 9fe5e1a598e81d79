package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/replybridge/internal/profile"
	"github.com/hrygo/replybridge/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
	now     func() time.Time
}

// NewDB opens the SQLite database named by profile.DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No shared-cache: it's obsolete; WAL journal mode is a better solution.
	// - Journal mode set to WAL: it's the recommended journal mode for most applications
	// as it prevents locking issues.
	//
	// Notes:
	// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
	separator := "?"
	if strings.Contains(profile.DSN, "?") {
		separator = "&"
	}
	sqliteDB, err := sql.Open("sqlite", profile.DSN+separator+"_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// The processor, the control surface and the history refresher all write;
	// a single connection serializes them without SQLITE_BUSY churn.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile, now: time.Now}, nil
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

var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
		is_monitoring INTEGER NOT NULL DEFAULT 0,
		has_more_history INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (session_key, tenant)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant TEXT NOT NULL,
		session_key TEXT NOT NULL,
		chat_name TEXT NOT NULL DEFAULT '',
		message_id BIGINT NOT NULL,
		content TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reply_suggestions_session ON reply_suggestions (tenant, session_key)`,
	`CREATE TABLE IF NOT EXISTS ai_sales_config (
		tenant TEXT PRIMARY KEY,
		api_key TEXT,
		base_url TEXT,
		model TEXT,
		temperature REAL,
		max_tokens INTEGER,
		system_prompt TEXT,
		user_prompt TEXT,
		auto_reply_enabled INTEGER NOT NULL DEFAULT 0,
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
			return errors.Wrapf(err, "failed to apply schema statement: %s", firstLine(stmt))
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit migration")
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
