package database

import (
	"context"
	"errors"
	"time"

	"github.com/odvcencio/issuestream/internal/models"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ItemQuery selects cached items. Where and Args come from filter.SQL and
// use ? placeholders; backends rebind them as needed.
type ItemQuery struct {
	StreamID int64 // 0 selects across all streams
	Where    string
	Args     []any
	OrderBy  string
	Limit    int
	Offset   int
}

// DB defines the data access interface. Implemented by SQLite and PostgreSQL backends.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error

	// InTx runs fn inside one transaction. Nested calls reuse the outer one.
	InTx(ctx context.Context, fn func(tx DB) error) error

	// Streams
	CreateStream(ctx context.Context, stream *models.Stream) error
	UpdateStream(ctx context.Context, stream *models.Stream) error
	GetStream(ctx context.Context, id int64) (*models.Stream, error)
	ListStreams(ctx context.Context) ([]models.Stream, error)
	DeleteStream(ctx context.Context, id int64) error
	UpdateStreamCursor(ctx context.Context, id int64, cursor time.Time) error

	// Items
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	GetItems(ctx context.Context, ids []int64) (map[int64]*models.Item, error)
	UpsertItem(ctx context.Context, item *models.Item) error
	UpdateItemLocalState(ctx context.Context, item *models.Item) error
	DeleteItems(ctx context.Context, ids []int64) error
	CountItems(ctx context.Context, q ItemQuery) (int, error)
	QueryItems(ctx context.Context, q ItemQuery) ([]models.Item, error)
	EvictItems(ctx context.Context, keep int) ([]int64, error)

	// Stream membership
	AddStreamItems(ctx context.Context, streamID int64, itemIDs []int64) (int, error)
	StreamItemIDs(ctx context.Context, streamID int64, itemIDs []int64) ([]int64, error)
	RemoveStreamItems(ctx context.Context, streamID int64, itemIDs []int64) (int, error)

	// Subscriptions
	Subscribe(ctx context.Context, sub *models.Subscription) error
	Unsubscribe(ctx context.Context, itemID int64) error
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
}
