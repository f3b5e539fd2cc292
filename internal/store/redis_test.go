package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-oracle/meridian/internal/feed"
)

// mockRedis records HSet/Del calls.
type mockRedis struct {
	mu     sync.Mutex
	hsets  map[string][]any
	dels   []string
	writes int
}

func newMockRedis() *mockRedis {
	return &mockRedis{hsets: make(map[string][]any)}
}

func (m *mockRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	m.mu.Lock()
	m.hsets[key] = values
	m.writes++
	m.mu.Unlock()
	return redis.NewIntCmd(ctx)
}

func (m *mockRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	m.dels = append(m.dels, keys...)
	m.mu.Unlock()
	return redis.NewIntCmd(ctx)
}

func (m *mockRedis) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWriter_WritesLatest(t *testing.T) {
	client := newMockRedis()
	w := NewWriter(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(feed.PriceUpdate{Feed: "1/aa", Price: 100, Sequence: 1, PublishTime: 1000})

	waitFor(t, func() bool { return client.writeCount() == 1 })

	client.mu.Lock()
	_, ok := client.hsets["price:1/aa"]
	client.mu.Unlock()
	if !ok {
		t.Fatal("expected hash write under price:1/aa")
	}
}

func TestWriter_SuppressesStaleSequence(t *testing.T) {
	client := newMockRedis()
	w := NewWriter(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(feed.PriceUpdate{Feed: "1/aa", Price: 100, Sequence: 5})
	w.Enqueue(feed.PriceUpdate{Feed: "1/aa", Price: 101, Sequence: 5})
	w.Enqueue(feed.PriceUpdate{Feed: "1/aa", Price: 102, Sequence: 6})

	waitFor(t, func() bool { return client.writeCount() == 2 })

	time.Sleep(50 * time.Millisecond)
	if got := client.writeCount(); got != 2 {
		t.Fatalf("expected 2 writes, got %d", got)
	}
}

func TestWriter_Removal(t *testing.T) {
	client := newMockRedis()
	w := NewWriter(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Enqueue(feed.PriceUpdate{Feed: "1/aa", Price: 100, Sequence: 1})
	w.EnqueueRemoval([]feed.ID{"1/aa"})

	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.dels) == 1 && client.dels[0] == "price:1/aa"
	})

	// After removal, the same sequence may be written again (re-attested feed).
	w.Enqueue(feed.PriceUpdate{Feed: "1/aa", Price: 100, Sequence: 1})
	waitFor(t, func() bool { return client.writeCount() == 2 })
}
