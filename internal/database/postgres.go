package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresDB struct {
	*sqlStore
}

func OpenPostgres(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &PostgresDB{sqlStore: newSQLStore(db, postgresDialect)}, nil
}

var postgresDialect = dialect{
	name:     "postgres",
	schema:   pgSchema,
	numbered: true,
	isDupCol: isPostgresDuplicateColumnErr,
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS streams (
	id BIGSERIAL PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	query_type TEXT NOT NULL DEFAULT '',
	parent_id BIGINT REFERENCES streams(id) ON DELETE CASCADE,
	queries TEXT NOT NULL DEFAULT '[]',
	default_filter TEXT NOT NULL DEFAULT '',
	user_filter TEXT NOT NULL DEFAULT '[]',
	search_cursor TIMESTAMPTZ,
	position INTEGER NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	notify_on_update BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id BIGINT PRIMARY KEY,
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
	milestone_due_on TIMESTAMPTZ,
	repo TEXT NOT NULL DEFAULT '',
	html_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ,
	read_at TIMESTAMPTZ,
	prev_read_at TIMESTAMPTZ,
	unread_at TIMESTAMPTZ,
	archived_at TIMESTAMPTZ,
	marked_at TIMESTAMPTZ,
	last_timeline_user TEXT NOT NULL DEFAULT '',
	last_timeline_at TIMESTAMPTZ,
	raw BYTEA
);

CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);

CREATE TABLE IF NOT EXISTS stream_items (
	stream_id BIGINT NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
	item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	PRIMARY KEY (stream_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_stream_items_item ON stream_items(item_id);

CREATE TABLE IF NOT EXISTS subscriptions (
	item_id BIGINT PRIMARY KEY,
	repo TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

func isPostgresDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
