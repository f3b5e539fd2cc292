package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/feed"
)

// ErrNotReady is returned by Snapshot while the readiness gate is closed.
var ErrNotReady = errors.New("hub: cache still catching up")

// EventType distinguishes the messages delivered to subscribers.
type EventType string

const (
	// EventPriceUpdate carries an accepted cache update.
	EventPriceUpdate EventType = "price_update"
	// EventRemoved signals that a feed was evicted from the cache and will
	// no longer appear in snapshots until it is re-attested.
	EventRemoved EventType = "removed"
)

// Event is a single message on a subscriber stream.
type Event struct {
	Type   EventType
	Update feed.PriceUpdate // set for EventPriceUpdate
	Feed   feed.ID          // set for EventRemoved
}

// subscriber holds one registration: the set of feeds it wants and its
// bounded outbound buffer.
type subscriber struct {
	id    string
	feeds map[feed.ID]struct{}
	out   chan Event
}

// SnapshotSource is the pull-model read surface. Satisfied by *feed.Cache.
type SnapshotSource interface {
	Get(feed.ID) (feed.Entry, bool)
}

// ReadyChecker gates external reads. Satisfied by *feed.Gate.
type ReadyChecker interface {
	Ready() bool
}

// Hub fans accepted cache updates out to live subscribers and serves
// point-in-time reads to pull clients. Delivery is best-effort: a slow
// subscriber's buffer overflows by dropping its own oldest event, never by
// blocking the publisher, so ingestion throughput is independent of
// subscriber count.
type Hub struct {
	cache SnapshotSource
	gate  ReadyChecker

	bufSize int

	mu   sync.RWMutex
	subs map[string]*subscriber
}

// New creates a Hub reading snapshots from cache and gating on gate.
// bufSize is the per-subscriber outbound buffer size.
func New(cache SnapshotSource, gate ReadyChecker, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Hub{
		cache:   cache,
		gate:    gate,
		bufSize: bufSize,
		subs:    make(map[string]*subscriber),
	}
}

// Subscribe registers id for the given feeds and returns its event stream.
// An empty feed list subscribes to every feed. Subscribing again with the
// same id replaces the previous registration and closes its stream.
func (h *Hub) Subscribe(id string, ids []feed.ID) <-chan Event {
	feeds := make(map[feed.ID]struct{}, len(ids))
	for _, f := range ids {
		feeds[f] = struct{}{}
	}

	sub := &subscriber{
		id:    id,
		feeds: feeds,
		out:   make(chan Event, h.bufSize),
	}

	h.mu.Lock()
	if prev, ok := h.subs[id]; ok {
		close(prev.out)
	}
	h.subs[id] = sub
	h.mu.Unlock()

	return sub.out
}

// Unsubscribe removes the registration for id and closes its stream.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		close(sub.out)
	}
}

// Publish delivers an accepted update to every subscriber registered for
// its feed. Never blocks.
func (h *Hub) Publish(u feed.PriceUpdate) {
	h.deliver(u.Feed, Event{Type: EventPriceUpdate, Update: u})
}

// PublishRemoval notifies subscribers that feeds were evicted.
func (h *Hub) PublishRemoval(ids []feed.ID) {
	for _, id := range ids {
		h.deliver(id, Event{Type: EventRemoved, Feed: id})
	}
}

func (h *Hub) deliver(id feed.ID, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if len(sub.feeds) > 0 {
			if _, want := sub.feeds[id]; !want {
				continue
			}
		}
		select {
		case sub.out <- ev:
		default:
			// Buffer full: shed the subscriber's oldest event to make room.
			// The subscriber pays for its own slowness; the publisher never waits.
			select {
			case <-sub.out:
			default:
			}
			select {
			case sub.out <- ev:
			default:
			}
			log.Debug().Str("subscriber", sub.id).Str("feed", string(id)).Msg("subscriber buffer overflow, dropped oldest")
		}
	}
}

// Snapshot returns the current entry per requested feed. Unknown or evicted
// feeds are simply absent from the result, never served as stale data.
// Returns ErrNotReady while the cache has not caught up.
func (h *Hub) Snapshot(ids []feed.ID) (map[feed.ID]feed.Entry, error) {
	if !h.gate.Ready() {
		return nil, ErrNotReady
	}

	out := make(map[feed.ID]feed.Entry, len(ids))
	for _, id := range ids {
		if e, ok := h.cache.Get(id); ok {
			out[id] = e
		}
	}
	return out, nil
}

// CloseAll closes every subscriber stream. Called on shutdown after the
// ingestion path has stopped.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.out)
	}
}
