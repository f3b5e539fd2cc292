package feed

import "time"

// ID identifies a price feed: the source chain and the emitter address of
// the attestation producer, joined as "<chain_id>/<emitter_address>".
// It is the cache key and is stable for the lifetime of the feed.
type ID string

// PriceUpdate is a single attested price observation. Immutable once
// constructed; downstream consumers (hub, pusher, API) operate on copies.
type PriceUpdate struct {
	Feed ID

	// Price is a fixed-point mantissa; the real value is Price * 10^Expo.
	Price int64
	// Conf is the confidence interval around Price, same scale.
	Conf uint64
	Expo int32

	// PublishTime is the attestation's publish time, unix seconds.
	PublishTime int64

	// Sequence increases strictly per feed for genuine updates. It is the
	// sole ordering authority: arrival order carries no meaning.
	Sequence uint64
}

// Entry is the cached state for one feed. Owned by the Cache; mutated only
// through Upsert. ReceivedAt is the local wall-clock time of the last
// accepted update and drives TTL eviction.
type Entry struct {
	Latest     PriceUpdate
	ReceivedAt time.Time
}
