package models

import "time"

// MarkRead records an explicit read. readAt never lands before updatedAt so
// the item stays read under clock skew between local and remote hosts.
func (i *Item) MarkRead(now time.Time) {
	readAt := now.UTC()
	if readAt.Before(i.UpdatedAt) {
		readAt = i.UpdatedAt
	}
	i.PrevReadAt = cloneTime(i.ReadAt)
	i.ReadAt = &readAt
	i.UnreadAt = nil
}

// MarkUnread records an explicit unread. The previous readAt is restored
// when it still leaves the item unread, which gives one level of undo.
func (i *Item) MarkUnread(now time.Time) {
	prev := i.PrevReadAt
	i.PrevReadAt = cloneTime(i.ReadAt)
	if prev != nil && prev.Before(i.UpdatedAt) {
		i.ReadAt = cloneTime(prev)
	} else {
		i.ReadAt = nil
	}
	unreadAt := now.UTC()
	i.UnreadAt = &unreadAt
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
