// Package pusher decides, per target chain and per feed, whether the cached
// price justifies an on-chain update, and executes the submissions.
package pusher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/meridian-oracle/meridian/internal/feed"
)

// PriceConfig is the pusher-side configuration document: which feeds go to
// which chains, under which thresholds. Credentials are NOT part of this
// document; they are referenced by file path on the command line.
type PriceConfig struct {
	Chains []ChainConfig `toml:"chain"`
}

// ChainConfig configures one target chain's decision loop.
type ChainConfig struct {
	ID              string `toml:"id"`
	Endpoint        string `toml:"endpoint"`
	ContractAddress string `toml:"contract_address"`

	TickIntervalSeconds int `toml:"tick_interval_seconds"`

	Feeds []FeedConfig `toml:"feed"`
}

// FeedConfig sets the push thresholds for one feed on one chain.
type FeedConfig struct {
	ID    string `toml:"id"`
	Alias string `toml:"alias"`

	// MaxStalenessSeconds bounds the on-chain data age: once exceeded, a
	// push triggers regardless of price movement.
	MaxStalenessSeconds int `toml:"max_staleness_seconds"`

	// MinDeviationBps is the relative price move, in basis points, that
	// triggers a push before the staleness bound is hit.
	MinDeviationBps int64 `toml:"min_deviation_bps"`
}

// LoadPriceConfig reads and validates the TOML price-config document.
func LoadPriceConfig(path string) (*PriceConfig, error) {
	var cfg PriceConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("price config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("price config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *PriceConfig) {
	for i := range cfg.Chains {
		if cfg.Chains[i].TickIntervalSeconds <= 0 {
			cfg.Chains[i].TickIntervalSeconds = 10
		}
	}
}

func validate(cfg *PriceConfig) error {
	if len(cfg.Chains) == 0 {
		return errors.New("no chains configured")
	}

	seenChains := map[string]struct{}{}
	for _, c := range cfg.Chains {
		if strings.TrimSpace(c.ID) == "" {
			return errors.New("chain id is empty")
		}
		if _, dup := seenChains[c.ID]; dup {
			return fmt.Errorf("duplicate chain id %q", c.ID)
		}
		seenChains[c.ID] = struct{}{}

		if len(c.Feeds) == 0 {
			return fmt.Errorf("chain %q has no feeds", c.ID)
		}

		seenFeeds := map[string]struct{}{}
		for _, f := range c.Feeds {
			if strings.TrimSpace(f.ID) == "" {
				return fmt.Errorf("chain %q: feed id is empty", c.ID)
			}
			if _, dup := seenFeeds[f.ID]; dup {
				return fmt.Errorf("chain %q: duplicate feed %q", c.ID, f.ID)
			}
			seenFeeds[f.ID] = struct{}{}

			if f.MaxStalenessSeconds <= 0 {
				return fmt.Errorf("chain %q feed %q: max_staleness_seconds must be positive", c.ID, f.ID)
			}
			if f.MinDeviationBps < 0 {
				return fmt.Errorf("chain %q feed %q: min_deviation_bps must be non-negative", c.ID, f.ID)
			}
		}
	}
	return nil
}

// FeedIDs returns every feed id referenced by the document, deduplicated.
func (cfg *PriceConfig) FeedIDs() []feed.ID {
	seen := map[feed.ID]struct{}{}
	var out []feed.ID
	for _, c := range cfg.Chains {
		for _, f := range c.Feeds {
			id := feed.ID(f.ID)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
