package feed

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount trades memory for lock granularity. Feeds hash across shards so
// concurrent upserts for different feeds rarely contend.
const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[ID]*Entry
}

// Cache holds the latest-known state per feed with replace-if-newer
// semantics. An update is accepted only if its sequence number is strictly
// greater than the stored one, which makes the cache immune to the
// duplication and reordering of an at-least-once delivery stream.
type Cache struct {
	shards [shardCount]*shard

	countMu sync.RWMutex
	count   int

	nowFunc func() time.Time // injectable clock for testing
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	c := &Cache{nowFunc: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[ID]*Entry)}
	}
	return c
}

func (c *Cache) shardFor(id ID) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return c.shards[h.Sum32()%shardCount]
}

// Upsert applies an update. It returns true if the update was accepted and
// the entry replaced, false if it was rejected as stale or duplicate
// (sequence number not strictly greater than the stored one). Rejection is
// a no-op: the stored entry is left untouched.
func (c *Cache) Upsert(u PriceUpdate) bool {
	s := c.shardFor(u.Feed)

	s.mu.Lock()
	e, ok := s.entries[u.Feed]
	if ok && u.Sequence <= e.Latest.Sequence {
		s.mu.Unlock()
		return false
	}
	s.entries[u.Feed] = &Entry{Latest: u, ReceivedAt: c.nowFunc()}
	s.mu.Unlock()

	if !ok {
		c.countMu.Lock()
		c.count++
		c.countMu.Unlock()
	}
	return true
}

// Get returns a copy of the entry for the feed, or false if the feed is
// unknown or has been evicted.
func (c *Cache) Get(id ID) (Entry, bool) {
	s := c.shardFor(id)
	s.mu.RLock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.RUnlock()
		return Entry{}, false
	}
	out := *e
	s.mu.RUnlock()
	return out, true
}

// Len returns the number of distinct feeds currently cached.
func (c *Cache) Len() int {
	c.countMu.RLock()
	defer c.countMu.RUnlock()
	return c.count
}

// SweepExpired evicts every entry whose last accepted update is older than
// ttl relative to now, and returns the evicted feed ids.
func (c *Cache) SweepExpired(now time.Time, ttl time.Duration) []ID {
	var evicted []ID

	for _, s := range c.shards {
		s.mu.Lock()
		for id, e := range s.entries {
			if now.Sub(e.ReceivedAt) > ttl {
				delete(s.entries, id)
				evicted = append(evicted, id)
			}
		}
		s.mu.Unlock()
	}

	if len(evicted) > 0 {
		c.countMu.Lock()
		c.count -= len(evicted)
		c.countMu.Unlock()
	}
	return evicted
}

// RunSweeper runs SweepExpired on a fixed interval until ctx is cancelled.
// onEvict is called with the evicted ids after each sweep that removed
// anything; the hub uses it to notify subscribers of dropped feeds.
func (c *Cache) RunSweeper(ctx context.Context, interval, ttl time.Duration, onEvict func([]ID)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := c.SweepExpired(c.nowFunc(), ttl); len(evicted) > 0 && onEvict != nil {
				onEvict(evicted)
			}
		}
	}
}
