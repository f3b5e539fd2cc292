package pusher

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/chain"
	"github.com/meridian-oracle/meridian/internal/feed"
	"github.com/meridian-oracle/meridian/internal/metrics"
)

// PriceReader is the cached-price surface the engine polls.
// Satisfied by *feed.Cache.
type PriceReader interface {
	Get(feed.ID) (feed.Entry, bool)
}

// Target tracks one feed's on-chain baseline and thresholds. The baseline
// advances only on successful submission or an explicit on-chain query, so
// a failed push leaves the feed eligible on the next tick.
type Target struct {
	Feed  feed.ID
	Alias string

	MaxStaleness    time.Duration
	MinDeviationBps int64

	lastPrice int64
	lastTime  int64
}

// shouldPush evaluates the cached update against the target's baseline.
// A feed with no baseline (lastPrice zero, never pushed) always triggers.
func (t *Target) shouldPush(u feed.PriceUpdate) (string, bool) {
	if t.lastPrice == 0 {
		return "first_push", true
	}
	if u.PublishTime-t.lastTime > int64(t.MaxStaleness/time.Second) {
		return "staleness", true
	}
	if deviationBps(u.Price, t.lastPrice) >= t.MinDeviationBps {
		return "deviation", true
	}
	return "", false
}

// deviationBps returns |current - baseline| / |baseline| in basis points.
// big.Int arithmetic keeps extreme mantissas exact.
func deviationBps(current, baseline int64) int64 {
	diff := new(big.Int).Sub(big.NewInt(current), big.NewInt(baseline))
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10_000))

	base := new(big.Int).Abs(big.NewInt(baseline))
	diff.Quo(diff, base)

	if !diff.IsInt64() {
		return math.MaxInt64
	}
	return diff.Int64()
}

// Engine runs one decision loop for one chain. Engines share nothing but
// the read-only price cache, so one chain's RPC outage cannot delay
// another's pushes.
type Engine struct {
	adapter chain.Adapter
	reader  PriceReader
	targets []*Target
	tick    time.Duration
	retry   chain.RetryConfig
}

// NewEngine builds an engine from a chain's configuration.
func NewEngine(adapter chain.Adapter, reader PriceReader, cfg ChainConfig) *Engine {
	targets := make([]*Target, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		targets = append(targets, &Target{
			Feed:            feed.ID(f.ID),
			Alias:           f.Alias,
			MaxStaleness:    time.Duration(f.MaxStalenessSeconds) * time.Second,
			MinDeviationBps: f.MinDeviationBps,
		})
	}
	return &Engine{
		adapter: adapter,
		reader:  reader,
		targets: targets,
		tick:    time.Duration(cfg.TickIntervalSeconds) * time.Second,
		retry:   chain.DefaultRetryConfig(),
	}
}

// SeedBaselines queries the chain for each target's last on-chain value.
// Query failures are logged and leave the target baseline-less, which makes
// its first evaluation trigger a push, which is the safe direction.
func (e *Engine) SeedBaselines(ctx context.Context) {
	for _, t := range e.targets {
		p, ok, err := e.adapter.QueryPrice(ctx, t.Feed)
		if err != nil {
			log.Warn().Err(err).Str("chain", e.adapter.ChainID()).Str("feed", string(t.Feed)).
				Msg("pusher: baseline query failed")
			continue
		}
		if ok {
			t.lastPrice = p.Price
			t.lastTime = p.PublishTime
		}
	}
}

// Run executes the decision loop until ctx is cancelled. An in-flight
// submission finishes (or times out through its own context) before the
// loop exits.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickOnce(ctx)
		}
	}
}

// tickOnce evaluates every target and submits all triggered feeds as one
// batch, amortising the per-transaction fixed cost.
func (e *Engine) tickOnce(ctx context.Context) {
	chainID := e.adapter.ChainID()

	var batch []feed.PriceUpdate
	var triggered []*Target

	for _, t := range e.targets {
		entry, ok := e.reader.Get(t.Feed)
		if !ok {
			continue
		}
		reason, push := t.shouldPush(entry.Latest)
		if !push {
			continue
		}
		log.Debug().Str("chain", chainID).Str("feed", string(t.Feed)).Str("reason", reason).
			Msg("pusher: push triggered")
		batch = append(batch, entry.Latest)
		triggered = append(triggered, t)
	}

	if len(batch) == 0 {
		return
	}

	metrics.PushAttempts.WithLabelValues(chainID).Inc()

	var result chain.SubmitResult
	err := chain.Retry(ctx, e.retry, func(ctx context.Context) error {
		var submitErr error
		result, submitErr = e.adapter.SubmitBatch(ctx, batch)
		return submitErr
	})
	if err != nil {
		// Baselines stay untouched: the same conditions re-trigger on the
		// next regular tick.
		metrics.PushFailures.WithLabelValues(chainID).Inc()
		log.Error().Err(err).Str("chain", chainID).Int("feeds", len(batch)).
			Msg("pusher: submission failed after retries")
		return
	}

	metrics.PushSuccesses.WithLabelValues(chainID).Inc()
	log.Info().Str("chain", chainID).Int("feeds", result.Committed).Str("tx", result.TxHash).
		Msg("pusher: batch committed")

	for i, t := range triggered {
		t.lastPrice = batch[i].Price
		t.lastTime = batch[i].PublishTime
	}
}
