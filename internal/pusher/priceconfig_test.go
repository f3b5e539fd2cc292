package pusher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "price.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
[[chain]]
id = "sepolia"
endpoint = "https://rpc.sepolia.example"
contract_address = "0x1111111111111111111111111111111111111111"
tick_interval_seconds = 5

  [[chain.feed]]
  id = "1/ff346e38b2f45dc3cbcd43e678b1f19c25c35f6d"
  alias = "BTC/USD"
  max_staleness_seconds = 60
  min_deviation_bps = 50

  [[chain.feed]]
  id = "1/aa5f2a0b6c59816e861f596a6c7e0f1e3f4d5c6b"
  alias = "ETH/USD"
  max_staleness_seconds = 120
  min_deviation_bps = 25

[[chain]]
id = "base"
endpoint = "https://rpc.base.example"
contract_address = "0x2222222222222222222222222222222222222222"

  [[chain.feed]]
  id = "1/ff346e38b2f45dc3cbcd43e678b1f19c25c35f6d"
  alias = "BTC/USD"
  max_staleness_seconds = 30
  min_deviation_bps = 100
`

func TestLoadPriceConfig_Valid(t *testing.T) {
	cfg, err := LoadPriceConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(cfg.Chains))
	}

	sep := cfg.Chains[0]
	if sep.ID != "sepolia" || sep.TickIntervalSeconds != 5 || len(sep.Feeds) != 2 {
		t.Fatalf("unexpected first chain: %+v", sep)
	}
	if sep.Feeds[0].Alias != "BTC/USD" || sep.Feeds[0].MinDeviationBps != 50 {
		t.Fatalf("unexpected first feed: %+v", sep.Feeds[0])
	}

	// Tick interval defaults when omitted.
	if cfg.Chains[1].TickIntervalSeconds != 10 {
		t.Fatalf("expected default tick interval, got %d", cfg.Chains[1].TickIntervalSeconds)
	}
}

func TestLoadPriceConfig_FeedIDsDeduplicated(t *testing.T) {
	cfg, err := LoadPriceConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}

	// BTC appears on both chains but counts once.
	if ids := cfg.FeedIDs(); len(ids) != 2 {
		t.Fatalf("expected 2 distinct feeds, got %v", ids)
	}
}

func TestLoadPriceConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"no chains", ``, "no chains"},
		{
			"empty chain id",
			"[[chain]]\nid = \"\"\n  [[chain.feed]]\n  id = \"1/aa\"\n  max_staleness_seconds = 60\n",
			"chain id is empty",
		},
		{
			"duplicate chain",
			"[[chain]]\nid = \"x\"\n  [[chain.feed]]\n  id = \"1/aa\"\n  max_staleness_seconds = 60\n" +
				"[[chain]]\nid = \"x\"\n  [[chain.feed]]\n  id = \"1/aa\"\n  max_staleness_seconds = 60\n",
			"duplicate chain",
		},
		{
			"no feeds",
			"[[chain]]\nid = \"x\"\n",
			"no feeds",
		},
		{
			"duplicate feed",
			"[[chain]]\nid = \"x\"\n  [[chain.feed]]\n  id = \"1/aa\"\n  max_staleness_seconds = 60\n" +
				"  [[chain.feed]]\n  id = \"1/aa\"\n  max_staleness_seconds = 60\n",
			"duplicate feed",
		},
		{
			"zero staleness",
			"[[chain]]\nid = \"x\"\n  [[chain.feed]]\n  id = \"1/aa\"\n  max_staleness_seconds = 0\n",
			"max_staleness_seconds",
		},
		{
			"negative deviation",
			"[[chain]]\nid = \"x\"\n  [[chain.feed]]\n  id = \"1/aa\"\n  max_staleness_seconds = 60\n  min_deviation_bps = -1\n",
			"min_deviation_bps",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadPriceConfig(writeConfig(t, c.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not mention %q", err, c.want)
			}
		})
	}
}
