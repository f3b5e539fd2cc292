// Package chain defines the capability surface the push engine needs from a
// target blockchain, plus the retry plumbing shared by implementations.
package chain

import (
	"context"
	"fmt"

	"github.com/meridian-oracle/meridian/internal/feed"
)

// OnChainPrice is the last recorded value for a feed on a target chain.
type OnChainPrice struct {
	Price       int64
	Expo        int32
	PublishTime int64
}

// SubmitResult reports a successful batch submission.
type SubmitResult struct {
	Committed int    // number of updates in the committed batch
	TxHash    string // chain-specific transaction handle
}

// SubmissionError wraps any failure to land a batch: RPC errors, rejected
// transactions, timeouts. It is never fatal to the engine; the feeds stay
// eligible on the next tick.
type SubmissionError struct {
	Chain string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("chain %s: submission failed: %v", e.Chain, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Adapter is the per-chain capability consumed by the push engine. The
// engine treats it as a black box with fallible, bounded-latency calls.
// SubmitBatch must be idempotent at the batch level: resubmitting an
// already-committed batch is a no-op or a harmless overwrite with
// equal-or-newer data.
type Adapter interface {
	// ChainID names the target chain for logs and metrics.
	ChainID() string

	// SubmitBatch submits all updates in one transaction.
	SubmitBatch(ctx context.Context, batch []feed.PriceUpdate) (SubmitResult, error)

	// QueryPrice returns the feed's last on-chain value, or false if the
	// feed has never been pushed.
	QueryPrice(ctx context.Context, id feed.ID) (OnChainPrice, bool, error)
}
