package cache

import (
	"strings"
	"time"

	"github.com/odvcencio/issuestream/internal/models"
)

// ResolveReadAt computes readAt for an incoming remote item merged over
// prev (nil for a first sighting). Rules apply in order:
//
//  1. an explicit unread on prev keeps prev's readAt untouched
//  2. an update the account made itself is read at updatedAt
//  3. with the old-item policy on, a stale item is read at now
//  4. otherwise prev's readAt carries over
func ResolveReadAt(prev, incoming *models.Item, s Settings, now time.Time) *time.Time {
	var current *time.Time
	if prev != nil {
		current = prev.ReadAt
		if prev.UnreadAt != nil {
			return cloneTime(current)
		}
	}

	if SelfUpdated(incoming, s) {
		readAt := incoming.UpdatedAt.UTC()
		if current != nil && current.After(readAt) {
			readAt = current.UTC()
		}
		return &readAt
	}

	alreadyRead := current != nil && !current.Before(incoming.UpdatedAt)
	if s.OldItemPolicy && s.OldItemThreshold > 0 && !alreadyRead &&
		now.Sub(incoming.UpdatedAt) > s.OldItemThreshold {
		readAt := now.UTC()
		return &readAt
	}

	return cloneTime(current)
}

// MaxSelfUpdateTolerance bounds Settings.SelfUpdateTolerance.
const MaxSelfUpdateTolerance = time.Second

// SelfUpdated reports whether the last timeline event was made by the
// account within tolerance of updatedAt. The tolerance never exceeds
// MaxSelfUpdateTolerance.
func SelfUpdated(it *models.Item, s Settings) bool {
	if s.Login == "" || it.LastTimelineAt == nil || !strings.EqualFold(it.LastTimelineUser, s.Login) {
		return false
	}
	diff := it.UpdatedAt.Sub(*it.LastTimelineAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= min(s.SelfUpdateTolerance, MaxSelfUpdateTolerance)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
