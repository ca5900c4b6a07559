package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	*sqlStore
}

// OpenSQLite opens the local cache. Timestamps are written in SQLite's
// canonical text format so ORDER BY and comparisons on them stay correct.
func OpenSQLite(dsn string) (*SQLiteDB, error) {
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps pragmas applied and serializes writers.
	db.SetMaxOpenConns(1)
	// Enable WAL mode and foreign keys
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	return &SQLiteDB{sqlStore: newSQLStore(db, sqliteDialect)}, nil
}

var sqliteDialect = dialect{
	name:     "sqlite",
	schema:   sqliteSchema,
	numbered: false,
	isDupCol: isSQLiteDuplicateColumnErr,
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS streams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	query_type TEXT NOT NULL DEFAULT '',
	parent_id INTEGER REFERENCES streams(id) ON DELETE CASCADE,
	queries TEXT NOT NULL DEFAULT '[]',
	default_filter TEXT NOT NULL DEFAULT '',
	user_filter TEXT NOT NULL DEFAULT '[]',
	search_cursor DATETIME,
	position INTEGER NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	notify_on_update BOOLEAN NOT NULL DEFAULT FALSE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY,
	node_id TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	number INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'open',
	draft BOOLEAN NOT NULL DEFAULT FALSE,
	merged BOOLEAN NOT NULL DEFAULT FALSE,
	author TEXT NOT NULL DEFAULT '',
	assignees TEXT NOT NULL DEFAULT '',
	labels TEXT NOT NULL DEFAULT '',
	milestone TEXT NOT NULL DEFAULT '',
	milestone_due_on DATETIME,
	repo TEXT NOT NULL DEFAULT '',
	html_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	closed_at DATETIME,
	read_at DATETIME,
	prev_read_at DATETIME,
	unread_at DATETIME,
	archived_at DATETIME,
	marked_at DATETIME,
	last_timeline_user TEXT NOT NULL DEFAULT '',
	last_timeline_at DATETIME,
	raw BLOB
);

CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);

CREATE TABLE IF NOT EXISTS stream_items (
	stream_id INTEGER NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
	item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	PRIMARY KEY (stream_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_stream_items_item ON stream_items(item_id);

CREATE TABLE IF NOT EXISTS subscriptions (
	item_id INTEGER PRIMARY KEY,
	repo TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

func isSQLiteDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
