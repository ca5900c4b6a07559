package api

import (
	"context"
	"sync"
	"time"

	"github.com/odvcencio/issuestream/internal/service"
)

const streamUpdatedEvent = "stream.updated"

type streamEvent struct {
	Type       string      `json:"type"`
	StreamID   int64       `json:"stream_id"`
	StreamName string      `json:"stream_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	Items      []eventItem `json:"items"`
}

type eventItem struct {
	ID     int64  `json:"id"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
}

// EventBroker fans stream notifications out to server-sent event clients.
// Subscribers of stream 0 receive every stream's events.
type EventBroker struct {
	mu   sync.RWMutex
	subs map[int64]map[chan streamEvent]struct{}
	now  func() time.Time
}

func NewEventBroker() *EventBroker {
	return &EventBroker{
		subs: make(map[int64]map[chan streamEvent]struct{}),
		now:  time.Now,
	}
}

var _ service.Notifier = (*EventBroker)(nil)

func (b *EventBroker) Subscribe(streamID int64) (<-chan streamEvent, func()) {
	ch := make(chan streamEvent, 32)
	b.mu.Lock()
	if _, ok := b.subs[streamID]; !ok {
		b.subs[streamID] = make(map[chan streamEvent]struct{})
	}
	b.subs[streamID][ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if subs, ok := b.subs[streamID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, streamID)
			}
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Notify publishes n to subscribers of its stream and of all streams.
func (b *EventBroker) Notify(_ context.Context, n service.Notification) error {
	if len(n.Items) == 0 {
		return nil
	}
	event := streamEvent{
		Type:       streamUpdatedEvent,
		StreamID:   n.StreamID,
		StreamName: n.StreamName,
		OccurredAt: b.now().UTC(),
		Items:      make([]eventItem, 0, len(n.Items)),
	}
	for _, it := range n.Items {
		event.Items = append(event.Items, eventItem{ID: it.ID, Repo: it.Repo, Number: it.Number, Title: it.Title, URL: it.HTMLURL})
	}
	b.publish(n.StreamID, event)
	if n.StreamID != 0 {
		b.publish(0, event)
	}
	return nil
}

func (b *EventBroker) publish(key int64, event streamEvent) {
	b.mu.RLock()
	subs, ok := b.subs[key]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	channels := make([]chan streamEvent, 0, len(subs))
	for ch := range subs {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumers to keep publisher non-blocking.
		}
	}
}
