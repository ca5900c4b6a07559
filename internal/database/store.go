package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/issuestream/internal/models"
)

const maxInParams = 500

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// dialect captures the differences between the SQLite and PostgreSQL
// backends. Queries are written once with ? placeholders.
type dialect struct {
	name     string
	schema   string
	numbered bool // $1, $2 placeholders
	isDupCol func(error) bool
}

func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// backfills upgrade caches created before a column existed.
var backfills = []string{
	// Stream notifications were added after the first release.
	`ALTER TABLE streams ADD COLUMN notify_on_update BOOLEAN NOT NULL DEFAULT FALSE`,
}

type sqlStore struct {
	db      *sql.DB
	q       querier
	dialect dialect
	inTx    bool
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{db: db, q: db, dialect: d}
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) DBStats() sql.DBStats { return s.db.Stats() }

func (s *sqlStore) Driver() string { return s.dialect.name }

func (s *sqlStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("apply %s schema: %w", s.dialect.name, err)
	}
	for _, stmt := range backfills {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if !s.dialect.isDupCol(err) {
				return err
			}
		}
	}
	return nil
}

func (s *sqlStore) InTx(ctx context.Context, fn func(tx DB) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	child := &sqlStore{db: s.db, q: tx, dialect: s.dialect, inTx: true}
	if err := fn(child); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// Streams

const streamColumns = `id, kind, name, query_type, parent_id, queries, default_filter, user_filter,
	search_cursor, position, enabled, notify_on_update, created_at, updated_at`

func (s *sqlStore) CreateStream(ctx context.Context, stream *models.Stream) error {
	queries, filters, err := encodeStreamLists(stream)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	stream.CreatedAt = now
	stream.UpdatedAt = now
	return s.queryRow(ctx,
		`INSERT INTO streams (kind, name, query_type, parent_id, queries, default_filter, user_filter,
			search_cursor, position, enabled, notify_on_update, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		string(stream.Kind), stream.Name, stream.QueryType, nullInt64(stream.ParentID), queries,
		stream.DefaultFilter, filters, nullTime(stream.SearchCursor), stream.Position,
		stream.Enabled, stream.NotifyOnUpdate, now, now,
	).Scan(&stream.ID)
}

func (s *sqlStore) UpdateStream(ctx context.Context, stream *models.Stream) error {
	queries, filters, err := encodeStreamLists(stream)
	if err != nil {
		return err
	}
	stream.UpdatedAt = time.Now().UTC()
	res, err := s.exec(ctx,
		`UPDATE streams SET name = ?, query_type = ?, parent_id = ?, queries = ?, default_filter = ?,
			user_filter = ?, search_cursor = ?, position = ?, enabled = ?, notify_on_update = ?, updated_at = ?
		 WHERE id = ?`,
		stream.Name, stream.QueryType, nullInt64(stream.ParentID), queries, stream.DefaultFilter,
		filters, nullTime(stream.SearchCursor), stream.Position, stream.Enabled, stream.NotifyOnUpdate,
		stream.UpdatedAt, stream.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *sqlStore) GetStream(ctx context.Context, id int64) (*models.Stream, error) {
	stream, err := scanStream(s.queryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return stream, nil
}

func (s *sqlStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.query(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var streams []models.Stream
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, *stream)
	}
	return streams, rows.Err()
}

func (s *sqlStore) DeleteStream(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, `DELETE FROM stream_items WHERE stream_id IN (SELECT id FROM streams WHERE parent_id = ?)`, id); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM streams WHERE parent_id = ?`, id); err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM stream_items WHERE stream_id = ?`, id); err != nil {
		return err
	}
	res, err := s.exec(ctx, `DELETE FROM streams WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *sqlStore) UpdateStreamCursor(ctx context.Context, id int64, cursor time.Time) error {
	res, err := s.exec(ctx, `UPDATE streams SET search_cursor = ? WHERE id = ?`, cursor.UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func scanStream(sc rowScanner) (*models.Stream, error) {
	var (
		stream  models.Stream
		kind    string
		parent  sql.NullInt64
		queries string
		filters string
		cursor  sql.NullTime
	)
	if err := sc.Scan(&stream.ID, &kind, &stream.Name, &stream.QueryType, &parent, &queries,
		&stream.DefaultFilter, &filters, &cursor, &stream.Position, &stream.Enabled,
		&stream.NotifyOnUpdate, &stream.CreatedAt, &stream.UpdatedAt); err != nil {
		return nil, err
	}
	stream.Kind = models.StreamKind(kind)
	if parent.Valid {
		id := parent.Int64
		stream.ParentID = &id
	}
	if err := json.Unmarshal([]byte(queries), &stream.Queries); err != nil {
		return nil, fmt.Errorf("decode stream %d queries: %w", stream.ID, err)
	}
	if err := json.Unmarshal([]byte(filters), &stream.UserFilters); err != nil {
		return nil, fmt.Errorf("decode stream %d user filters: %w", stream.ID, err)
	}
	stream.SearchCursor = timePtr(cursor)
	return &stream, nil
}

func encodeStreamLists(stream *models.Stream) (string, string, error) {
	queries, err := json.Marshal(nonNilStrings(stream.Queries))
	if err != nil {
		return "", "", fmt.Errorf("encode queries: %w", err)
	}
	filters, err := json.Marshal(nonNilStrings(stream.UserFilters))
	if err != nil {
		return "", "", fmt.Errorf("encode user filters: %w", err)
	}
	return string(queries), string(filters), nil
}

// Items

const itemColumns = `items.id, items.node_id, items.type, items.number, items.title, items.state,
	items.draft, items.merged, items.author, items.assignees, items.labels, items.milestone,
	items.milestone_due_on, items.repo, items.html_url, items.created_at, items.updated_at,
	items.closed_at, items.read_at, items.prev_read_at, items.unread_at, items.archived_at,
	items.marked_at, items.last_timeline_user, items.last_timeline_at, items.raw`

func (s *sqlStore) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	item, err := scanItem(s.queryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE items.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *sqlStore) GetItems(ctx context.Context, ids []int64) (map[int64]*models.Item, error) {
	out := make(map[int64]*models.Item, len(ids))
	err := chunkIDs(ids, func(chunk []int64) error {
		rows, err := s.query(ctx,
			`SELECT `+itemColumns+` FROM items WHERE items.id IN (`+placeholders(len(chunk))+`)`,
			idArgs(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			out[item.ID] = item
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) UpsertItem(ctx context.Context, item *models.Item) error {
	raw, err := encodePayload(item.Raw)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO items (id, node_id, type, number, title, state, draft, merged, author, assignees,
			labels, milestone, milestone_due_on, repo, html_url, created_at, updated_at, closed_at,
			read_at, prev_read_at, unread_at, archived_at, marked_at, last_timeline_user, last_timeline_at, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			node_id = excluded.node_id,
			type = excluded.type,
			number = excluded.number,
			title = excluded.title,
			state = excluded.state,
			draft = excluded.draft,
			merged = excluded.merged,
			author = excluded.author,
			assignees = excluded.assignees,
			labels = excluded.labels,
			milestone = excluded.milestone,
			milestone_due_on = excluded.milestone_due_on,
			repo = excluded.repo,
			html_url = excluded.html_url,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at,
			read_at = excluded.read_at,
			prev_read_at = excluded.prev_read_at,
			unread_at = excluded.unread_at,
			archived_at = excluded.archived_at,
			marked_at = excluded.marked_at,
			last_timeline_user = excluded.last_timeline_user,
			last_timeline_at = excluded.last_timeline_at,
			raw = excluded.raw`,
		item.ID, item.NodeID, string(item.Type), item.Number, item.Title, item.State, item.Draft,
		item.Merged, item.Author, models.JoinList(item.Assignees), models.JoinList(item.Labels),
		item.Milestone, nullTime(item.MilestoneDueOn), item.Repo, item.HTMLURL,
		item.CreatedAt.UTC(), item.UpdatedAt.UTC(), nullTime(item.ClosedAt),
		nullTime(item.ReadAt), nullTime(item.PrevReadAt), nullTime(item.UnreadAt),
		nullTime(item.ArchivedAt), nullTime(item.MarkedAt), item.LastTimelineUser,
		nullTime(item.LastTimelineAt), raw,
	)
	return err
}

// UpdateItemLocalState writes only the locally owned columns.
func (s *sqlStore) UpdateItemLocalState(ctx context.Context, item *models.Item) error {
	res, err := s.exec(ctx,
		`UPDATE items SET read_at = ?, prev_read_at = ?, unread_at = ?, archived_at = ?, marked_at = ?
		 WHERE id = ?`,
		nullTime(item.ReadAt), nullTime(item.PrevReadAt), nullTime(item.UnreadAt),
		nullTime(item.ArchivedAt), nullTime(item.MarkedAt), item.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *sqlStore) DeleteItems(ctx context.Context, ids []int64) error {
	return chunkIDs(ids, func(chunk []int64) error {
		in := placeholders(len(chunk))
		args := idArgs(chunk)
		for _, stmt := range []string{
			`DELETE FROM stream_items WHERE item_id IN (` + in + `)`,
			`DELETE FROM subscriptions WHERE item_id IN (` + in + `)`,
			`DELETE FROM items WHERE id IN (` + in + `)`,
		} {
			if _, err := s.exec(ctx, stmt, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) CountItems(ctx context.Context, q ItemQuery) (int, error) {
	query, args := buildItemQuery("COUNT(*)", q)
	var n int
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *sqlStore) QueryItems(ctx context.Context, q ItemQuery) ([]models.Item, error) {
	query, args := buildItemQuery(itemColumns, q)
	orderBy := strings.TrimSpace(q.OrderBy)
	if orderBy == "" {
		orderBy = "items.updated_at DESC, items.id DESC"
	}
	query += " ORDER BY " + orderBy
	if q.Limit > 0 {
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, offset)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// EvictItems deletes the least recently updated rows beyond keep, with their
// memberships, and returns the evicted ids.
func (s *sqlStore) EvictItems(ctx context.Context, keep int) ([]int64, error) {
	if keep < 0 {
		keep = 0
	}
	total, err := s.CountItems(ctx, ItemQuery{})
	if err != nil {
		return nil, err
	}
	excess := total - keep
	if excess <= 0 {
		return nil, nil
	}

	rows, err := s.query(ctx, `SELECT id FROM items ORDER BY updated_at ASC, id ASC LIMIT ?`, excess)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	if err := s.DeleteItems(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func buildItemQuery(selectList string, q ItemQuery) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("SELECT ")
	b.WriteString(selectList)
	b.WriteString(" FROM items")
	if q.StreamID != 0 {
		b.WriteString(" JOIN stream_items si ON si.item_id = items.id AND si.stream_id = ?")
		args = append(args, q.StreamID)
	}
	if where := strings.TrimSpace(q.Where); where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
		args = append(args, q.Args...)
	}
	return b.String(), args
}

func scanItem(sc rowScanner) (*models.Item, error) {
	var (
		item      models.Item
		typ       string
		assignees string
		labels    string
		dueOn     sql.NullTime
		closedAt  sql.NullTime
		readAt    sql.NullTime
		prevRead  sql.NullTime
		unreadAt  sql.NullTime
		archived  sql.NullTime
		marked    sql.NullTime
		timeline  sql.NullTime
		raw       []byte
	)
	if err := sc.Scan(&item.ID, &item.NodeID, &typ, &item.Number, &item.Title, &item.State,
		&item.Draft, &item.Merged, &item.Author, &assignees, &labels, &item.Milestone,
		&dueOn, &item.Repo, &item.HTMLURL, &item.CreatedAt, &item.UpdatedAt,
		&closedAt, &readAt, &prevRead, &unreadAt, &archived,
		&marked, &item.LastTimelineUser, &timeline, &raw); err != nil {
		return nil, err
	}
	item.Type = models.ItemType(typ)
	item.Assignees = models.SplitList(assignees)
	item.Labels = models.SplitList(labels)
	item.MilestoneDueOn = timePtr(dueOn)
	item.ClosedAt = timePtr(closedAt)
	item.ReadAt = timePtr(readAt)
	item.PrevReadAt = timePtr(prevRead)
	item.UnreadAt = timePtr(unreadAt)
	item.ArchivedAt = timePtr(archived)
	item.MarkedAt = timePtr(marked)
	item.LastTimelineAt = timePtr(timeline)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", item.ID, err)
	}
	item.Raw = payload
	return &item, nil
}

// Stream membership

func (s *sqlStore) AddStreamItems(ctx context.Context, streamID int64, itemIDs []int64) (int, error) {
	added := 0
	for _, id := range itemIDs {
		res, err := s.exec(ctx,
			`INSERT INTO stream_items (stream_id, item_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			streamID, id)
		if err != nil {
			return added, err
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}
	return added, nil
}

// StreamItemIDs returns which of itemIDs belong to the stream. A nil
// itemIDs returns every member.
func (s *sqlStore) StreamItemIDs(ctx context.Context, streamID int64, itemIDs []int64) ([]int64, error) {
	if itemIDs == nil {
		rows, err := s.query(ctx, `SELECT item_id FROM stream_items WHERE stream_id = ? ORDER BY item_id`, streamID)
		if err != nil {
			return nil, err
		}
		return scanIDs(rows)
	}
	var out []int64
	err := chunkIDs(itemIDs, func(chunk []int64) error {
		args := append([]any{streamID}, idArgs(chunk)...)
		rows, err := s.query(ctx,
			`SELECT item_id FROM stream_items WHERE stream_id = ? AND item_id IN (`+placeholders(len(chunk))+`) ORDER BY item_id`,
			args...)
		if err != nil {
			return err
		}
		ids, err := scanIDs(rows)
		if err != nil {
			return err
		}
		out = append(out, ids...)
		return nil
	})
	return out, err
}

func (s *sqlStore) RemoveStreamItems(ctx context.Context, streamID int64, itemIDs []int64) (int, error) {
	removed := 0
	err := chunkIDs(itemIDs, func(chunk []int64) error {
		args := append([]any{streamID}, idArgs(chunk)...)
		res, err := s.exec(ctx,
			`DELETE FROM stream_items WHERE stream_id = ? AND item_id IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
		return nil
	})
	return removed, err
}

// Subscriptions

func (s *sqlStore) Subscribe(ctx context.Context, sub *models.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO subscriptions (item_id, repo, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET repo = excluded.repo`,
		sub.ItemID, sub.Repo, sub.CreatedAt.UTC())
	return err
}

func (s *sqlStore) Unsubscribe(ctx context.Context, itemID int64) error {
	_, err := s.exec(ctx, `DELETE FROM subscriptions WHERE item_id = ?`, itemID)
	return err
}

func (s *sqlStore) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.query(ctx, `SELECT item_id, repo, created_at FROM subscriptions ORDER BY created_at, item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(&sub.ItemID, &sub.Repo, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// helpers

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func chunkIDs(ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += maxInParams {
		end := start + maxInParams
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
