// Package store mirrors the latest accepted prices into Redis so
// out-of-process consumers can read them without holding a stream.
package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/feed"
)

// Client abstracts the Redis operations used by Writer.
// In production this is satisfied by *redis.Client; in tests by a mock.
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Writer persists accepted updates under the schema:
//
//	Key:    price:{feed_id}
//	Fields: price, conf, expo, publish_time, seq
//
// Writes are non-blocking for the caller: updates are buffered in an
// internal channel and flushed by a dedicated goroutine. Updates whose
// sequence number does not advance the last written one are suppressed.
type Writer struct {
	client Client
	buf    chan feed.PriceUpdate
	dels   chan feed.ID

	mu   sync.Mutex
	last map[feed.ID]uint64 // last written sequence
}

// NewWriter creates a Writer flushing to the given client.
func NewWriter(client Client) *Writer {
	return &Writer{
		client: client,
		buf:    make(chan feed.PriceUpdate, 1024),
		dels:   make(chan feed.ID, 256),
		last:   make(map[feed.ID]uint64),
	}
}

// Enqueue buffers an accepted update for mirroring. Never blocks; if the
// buffer is full the update is dropped (the next accepted update for the
// feed supersedes it anyway).
func (w *Writer) Enqueue(u feed.PriceUpdate) {
	select {
	case w.buf <- u:
	default:
	}
}

// EnqueueRemoval buffers eviction of the given feeds from the mirror.
func (w *Writer) EnqueueRemoval(ids []feed.ID) {
	for _, id := range ids {
		select {
		case w.dels <- id:
		default:
		}
	}
}

// Run flushes buffered updates and removals until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-w.buf:
			w.write(ctx, u)
		case id := <-w.dels:
			w.remove(ctx, id)
		}
	}
}

func key(id feed.ID) string { return "price:" + string(id) }

func (w *Writer) write(ctx context.Context, u feed.PriceUpdate) {
	w.mu.Lock()
	if prev, ok := w.last[u.Feed]; ok && u.Sequence <= prev {
		w.mu.Unlock()
		return
	}
	w.last[u.Feed] = u.Sequence
	w.mu.Unlock()

	err := w.client.HSet(ctx, key(u.Feed),
		"price", strconv.FormatInt(u.Price, 10),
		"conf", strconv.FormatUint(u.Conf, 10),
		"expo", strconv.FormatInt(int64(u.Expo), 10),
		"publish_time", strconv.FormatInt(u.PublishTime, 10),
		"seq", strconv.FormatUint(u.Sequence, 10),
	).Err()
	if err != nil {
		log.Warn().Err(err).Str("feed", string(u.Feed)).Msg("store: redis write failed")
	}
}

func (w *Writer) remove(ctx context.Context, id feed.ID) {
	w.mu.Lock()
	delete(w.last, id)
	w.mu.Unlock()

	if err := w.client.Del(ctx, key(id)).Err(); err != nil {
		log.Warn().Err(err).Str("feed", string(id)).Msg("store: redis delete failed")
	}
}
