// Package spy consumes the attestation stream published by the gossip
// listener and normalises it into PriceUpdates for the cache.
package spy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/feed"
	"github.com/meridian-oracle/meridian/internal/metrics"
)

// Filter is one entry of the feed allow-list. An empty filter list means
// every attestation is accepted.
type Filter struct {
	ChainID        uint16 `json:"chain_id"`
	EmitterAddress string `json:"emitter_address"`
}

// FeedID derives the cache key for this filter's feed.
func (f Filter) FeedID() feed.ID {
	return feed.ID(fmt.Sprintf("%d/%s", f.ChainID, strings.ToLower(f.EmitterAddress)))
}

// ParseFilters decodes the SPY_SERVICE_FILTERS JSON array.
func ParseFilters(raw string) ([]Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var filters []Filter
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, fmt.Errorf("spy: parse filters: %w", err)
	}
	return filters, nil
}

// subscribeCmd is the control frame sent after every (re)connect.
type subscribeCmd struct {
	Type    string   `json:"type"`
	Filters []Filter `json:"filters,omitempty"`
}

// attestation is the wire form of one signed price observation.
type attestation struct {
	Type           string `json:"type"`
	ChainID        uint16 `json:"chain_id"`
	EmitterAddress string `json:"emitter_address"`
	Price          int64  `json:"price"`
	Conf           uint64 `json:"conf"`
	Expo           int32  `json:"expo"`
	PublishTime    int64  `json:"publish_time"`
	Sequence       uint64 `json:"sequence"`
}

// Client subscribes to the spy stream, filters attestations against the
// allow-list, and emits PriceUpdates. It implements the same provider shape
// the hub-side consumers expect: a single Updates channel.
type Client struct {
	ws      *StreamClient
	filters map[feed.ID]struct{} // empty = allow all
	updates chan feed.PriceUpdate
}

// NewClient creates a spy client for the given host ("host:port" or a full
// ws:// URL) and allow-list.
func NewClient(host string, filters []Filter) *Client {
	url := host
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	if !strings.HasSuffix(url, "/ws") {
		url = strings.TrimRight(url, "/") + "/ws"
	}

	allow := make(map[feed.ID]struct{}, len(filters))
	for _, f := range filters {
		allow[f.FeedID()] = struct{}{}
	}

	c := &Client{
		filters: allow,
		updates: make(chan feed.PriceUpdate, 1024),
	}
	c.ws = NewStreamClient(DefaultStreamConfig(url), c.handleFrame)
	c.ws.OnConnect(func() { c.sendSubscribe(filters) })
	return c
}

// Updates returns the stream of accepted, normalised price updates.
func (c *Client) Updates() <-chan feed.PriceUpdate {
	return c.updates
}

// Connect dials the spy. Blocks until the first connection succeeds or ctx
// is cancelled; later disconnects are handled internally with backoff.
func (c *Client) Connect(ctx context.Context) error {
	return c.ws.Connect(ctx)
}

// Close tears the connection down, waits for any in-flight frame to finish,
// then closes the update stream.
func (c *Client) Close() {
	c.ws.Close()
	close(c.updates)
}

// State reports the underlying connection state.
func (c *Client) State() ConnState {
	return c.ws.State()
}

func (c *Client) sendSubscribe(filters []Filter) {
	cmd, err := json.Marshal(subscribeCmd{Type: "subscribe", Filters: filters})
	if err != nil {
		return
	}
	c.ws.Send(cmd)
}

// handleFrame parses one inbound frame. A malformed attestation is dropped
// and counted; it never interrupts the stream.
func (c *Client) handleFrame(raw []byte) {
	var att attestation
	if err := json.Unmarshal(raw, &att); err != nil {
		metrics.AttestationsMalformed.Inc()
		log.Debug().Err(err).Int("bytes", len(raw)).Msg("spy: discarding unparseable frame")
		return
	}

	switch att.Type {
	case "heartbeat":
		return
	case "", "price_attestation":
		// fall through to normalisation
	default:
		return
	}

	if att.EmitterAddress == "" || att.PublishTime <= 0 {
		metrics.AttestationsMalformed.Inc()
		return
	}

	id := Filter{ChainID: att.ChainID, EmitterAddress: att.EmitterAddress}.FeedID()
	if len(c.filters) > 0 {
		if _, ok := c.filters[id]; !ok {
			return
		}
	}

	metrics.AttestationsReceived.Inc()

	u := feed.PriceUpdate{
		Feed:        id,
		Price:       att.Price,
		Conf:        att.Conf,
		Expo:        att.Expo,
		PublishTime: att.PublishTime,
		Sequence:    att.Sequence,
	}

	select {
	case c.updates <- u:
	default:
		// Ingestion buffer full: shed the oldest update. The cache's
		// sequence check makes the occasional gap harmless.
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- u:
		default:
		}
	}
}
