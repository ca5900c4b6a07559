package poller

import "time"

// Cursor is the rotation state of one stream: which query and page run
// next, the committed watermark, and the watermark snapshot taken when the
// current cycle began.
type Cursor struct {
	QueryIndex int
	Page       int
	Committed  *time.Time
	Pending    *time.Time
}

// PageOutcome describes the page that was just fetched.
type PageOutcome struct {
	Queries    int
	TotalCount int
	Fetched    int
	PerPage    int
	MaxResults int
}

// NewCursor starts a rotation from the persisted watermark.
func NewCursor(committed *time.Time) Cursor {
	return Cursor{Page: 1, Committed: copyTime(committed)}
}

// AtCycleStart reports whether the next page opens a new cycle.
func (c Cursor) AtCycleStart() bool {
	return c.QueryIndex == 0 && c.Page <= 1
}

// FirstCycle reports whether no cycle has ever been committed.
func (c Cursor) FirstCycle() bool {
	return c.Committed == nil
}

// Begin snapshots now as the pending watermark when a cycle opens. Items
// updated while the cycle runs are picked up by the next one.
func (c Cursor) Begin(now time.Time) Cursor {
	if c.Page < 1 {
		c.Page = 1
	}
	if c.AtCycleStart() && c.Pending == nil {
		t := now.UTC()
		c.Pending = &t
	}
	return c
}

// Reset moves back to the first page of the first query, dropping any
// pending snapshot.
func (c Cursor) Reset() Cursor {
	return Cursor{Page: 1, Committed: c.Committed}
}

// Advance moves to the next page, or to the next query once this one is
// exhausted. Wrapping back to the first query completes the cycle and
// commits the pending watermark.
func (c Cursor) Advance(o PageOutcome) (Cursor, bool) {
	next := c
	seen := c.Page * o.PerPage
	if o.Fetched > 0 && seen < o.TotalCount && seen < o.MaxResults {
		next.Page = c.Page + 1
		return next, false
	}

	next.Page = 1
	queries := o.Queries
	if queries < 1 {
		queries = 1
	}
	next.QueryIndex = (c.QueryIndex + 1) % queries
	if next.QueryIndex != 0 {
		return next, false
	}
	if c.Pending != nil {
		next.Committed = c.Pending
	}
	next.Pending = nil
	return next, true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
