package models

import (
	"encoding/json"
	"time"
)

type StreamKind string

const (
	StreamKindSystem   StreamKind = "system"
	StreamKindUser     StreamKind = "user"
	StreamKindFiltered StreamKind = "filtered"
	StreamKindProject  StreamKind = "project"
)

func (k StreamKind) Valid() bool {
	switch k {
	case StreamKindSystem, StreamKindUser, StreamKindFiltered, StreamKindProject:
		return true
	}
	return false
}

// Polled reports whether streams of this kind own a remote poller.
// Filtered streams are local views over their parent stream.
func (k StreamKind) Polled() bool {
	return k != StreamKindFiltered
}

// System stream query types. The query list of these streams is computed
// from live membership data before every rotation.
const (
	SystemQueryMe           = "me"
	SystemQueryTeam         = "team"
	SystemQueryWatching     = "watching"
	SystemQuerySubscription = "subscription"
)

type Stream struct {
	ID             int64      `json:"id"`
	Kind           StreamKind `json:"kind"`
	Name           string     `json:"name"`
	QueryType      string     `json:"query_type,omitempty"` // system streams only
	ParentID       *int64     `json:"parent_id,omitempty"`  // filtered streams only
	Queries        []string   `json:"queries"`
	DefaultFilter  string     `json:"default_filter"`
	UserFilters    []string   `json:"user_filters,omitempty"`
	SearchCursor   *time.Time `json:"search_cursor,omitempty"`
	Position       int        `json:"position"`
	Enabled        bool       `json:"enabled"`
	NotifyOnUpdate bool       `json:"notify_on_update"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ItemType string

const (
	ItemTypeIssue       ItemType = "issue"
	ItemTypePullRequest ItemType = "pr"
)

// Item is a cached issue or pull request. ID is the remote numeric id and
// NodeID the remote opaque id; both are unique.
type Item struct {
	ID             int64      `json:"id"`
	NodeID         string     `json:"node_id"`
	Type           ItemType   `json:"type"`
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	State          string     `json:"state"` // "open", "closed"
	Draft          bool       `json:"draft"`
	Merged         bool       `json:"merged"`
	Author         string     `json:"author"`
	Assignees      []string   `json:"assignees,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	Milestone      string     `json:"milestone,omitempty"`
	MilestoneDueOn *time.Time `json:"milestone_due_on,omitempty"`
	Repo           string     `json:"repo"` // "org/name"
	HTMLURL        string     `json:"html_url"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`

	ReadAt     *time.Time `json:"read_at,omitempty"`
	PrevReadAt *time.Time `json:"prev_read_at,omitempty"`
	UnreadAt   *time.Time `json:"unread_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	MarkedAt   *time.Time `json:"marked_at,omitempty"`

	LastTimelineUser string     `json:"last_timeline_user,omitempty"`
	LastTimelineAt   *time.Time `json:"last_timeline_at,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// IsRead reports readAt != nil && readAt >= updatedAt.
func (i *Item) IsRead() bool {
	return i.ReadAt != nil && !i.ReadAt.Before(i.UpdatedAt)
}

func (i *Item) IsArchived() bool { return i.ArchivedAt != nil }

func (i *Item) IsBookmarked() bool { return i.MarkedAt != nil }

// Subscription pins a single item into the subscription system stream.
type Subscription struct {
	ItemID    int64     `json:"item_id"`
	Repo      string    `json:"repo"`
	CreatedAt time.Time `json:"created_at"`
}
