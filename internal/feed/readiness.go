package feed

import (
	"sync"
	"time"
)

// FeedCounter reports the number of distinct feeds currently loaded.
// Satisfied by *Cache.
type FeedCounter interface {
	Len() int
}

// Gate tracks catch-up progress after a cold start. It transitions from
// not-ready to ready exactly once, when BOTH a minimum time since start has
// elapsed AND a minimum number of distinct feeds is loaded. It never
// regresses: a later source disconnect or cache sweep does not flip it back.
//
// Every external read path consults the gate so that an incomplete cold-start
// snapshot is never served as authoritative.
type Gate struct {
	counter    FeedCounter
	minSync    time.Duration
	minSymbols int
	startedAt  time.Time

	mu    sync.Mutex
	ready bool

	nowFunc func() time.Time // injectable clock for testing
}

// NewGate creates a Gate that becomes ready once minSync has elapsed since
// construction and counter reports at least minSymbols feeds.
func NewGate(counter FeedCounter, minSync time.Duration, minSymbols int) *Gate {
	return &Gate{
		counter:    counter,
		minSync:    minSync,
		minSymbols: minSymbols,
		startedAt:  time.Now(),
		nowFunc:    time.Now,
	}
}

// Ready reports whether the gate is open. The first call for which both
// conditions hold latches the gate permanently.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ready {
		return true
	}
	if g.nowFunc().Sub(g.startedAt) < g.minSync {
		return false
	}
	if g.counter.Len() < g.minSymbols {
		return false
	}
	g.ready = true
	return true
}
