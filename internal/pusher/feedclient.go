package pusher

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/feed"
	"github.com/meridian-oracle/meridian/internal/spy"
)

// streamMsg is the relay's stream wire format.
type streamMsg struct {
	Type        string  `json:"type"`
	ID          feed.ID `json:"id"`
	Price       int64   `json:"price"`
	Conf        uint64  `json:"conf"`
	Expo        int32   `json:"expo"`
	PublishTime int64   `json:"publish_time"`
	Sequence    uint64  `json:"seq"`
}

// FeedClient subscribes to a running relay's stream and keeps a local
// cache current, so the push engines can poll prices without a network
// round-trip per tick. Reconnects are handled by the underlying stream
// client; the subscription is re-sent after every dial.
type FeedClient struct {
	ws    *spy.StreamClient
	cache *feed.Cache
	ids   []feed.ID
}

// NewFeedClient creates a client for the relay at endpoint ("host:port" or
// ws:// URL), tracking the given feeds into cache.
func NewFeedClient(endpoint string, ids []feed.ID, cache *feed.Cache) *FeedClient {
	url := endpoint
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	if !strings.HasSuffix(url, "/ws") {
		url = strings.TrimRight(url, "/") + "/ws"
	}

	fc := &FeedClient{cache: cache, ids: ids}
	fc.ws = spy.NewStreamClient(spy.DefaultStreamConfig(url), fc.handleFrame)
	fc.ws.OnConnect(fc.sendSubscribe)
	return fc
}

// Connect dials the relay. A failure here means the price service is
// unreachable, which is fatal at startup.
func (fc *FeedClient) Connect(ctx context.Context) error {
	return fc.ws.Connect(ctx)
}

// Close tears the stream down.
func (fc *FeedClient) Close() {
	fc.ws.Close()
}

func (fc *FeedClient) sendSubscribe() {
	cmd, err := json.Marshal(struct {
		Type string    `json:"type"`
		IDs  []feed.ID `json:"ids"`
	}{Type: "subscribe", IDs: fc.ids})
	if err != nil {
		return
	}
	fc.ws.Send(cmd)
}

func (fc *FeedClient) handleFrame(raw []byte) {
	var msg streamMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Msg("pusher: bad stream frame")
		return
	}

	if msg.Type != "price_update" {
		return
	}

	fc.cache.Upsert(feed.PriceUpdate{
		Feed:        msg.ID,
		Price:       msg.Price,
		Conf:        msg.Conf,
		Expo:        msg.Expo,
		PublishTime: msg.PublishTime,
		Sequence:    msg.Sequence,
	})
}
