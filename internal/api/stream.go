package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/feed"
	"github.com/meridian-oracle/meridian/internal/hub"
)

// Subscriptions is the push-model surface. Satisfied by *hub.Hub.
type Subscriptions interface {
	Subscribe(id string, ids []feed.ID) <-chan hub.Event
	Unsubscribe(id string)
}

// clientCmd is a control message from a stream client.
type clientCmd struct {
	Type string    `json:"type"` // "subscribe" | "unsubscribe"
	IDs  []feed.ID `json:"ids,omitempty"`
}

// serverMsg is one outbound stream message.
type serverMsg struct {
	Type        string  `json:"type"` // "price_update" | "removed"
	ID          feed.ID `json:"id"`
	Price       int64   `json:"price,omitempty"`
	Conf        uint64  `json:"conf,omitempty"`
	Expo        int32   `json:"expo,omitempty"`
	PublishTime int64   `json:"publish_time,omitempty"`
	Sequence    uint64  `json:"seq,omitempty"`
}

// StreamServer serves live price subscriptions over WebSocket. Each
// connection is one hub subscriber; its delivery guarantees (bounded buffer,
// drop-oldest) are the hub's.
type StreamServer struct {
	subs     Subscriptions
	srv      *http.Server
	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

// NewStreamServer creates the streaming server on the given port.
func NewStreamServer(port int, subs Subscriptions) *StreamServer {
	s := &StreamServer{
		subs: subs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Downstream consumers connect from anywhere; there is no
			// browser origin to validate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *StreamServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *StreamServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("stream: upgrade failed")
		return
	}

	subID := fmt.Sprintf("%s#%d", r.RemoteAddr, s.nextID.Add(1))
	go s.serveConn(conn, subID)
}

// serveConn owns one connection: a read loop for subscribe commands and a
// write pump for hub events. Closing either side tears the whole thing down.
func (s *StreamServer) serveConn(conn *websocket.Conn, subID string) {
	defer func() {
		s.subs.Unsubscribe(subID)
		conn.Close()
	}()

	// The write pump follows the current subscription; resubscribing swaps
	// the event channel.
	events := make(chan (<-chan hub.Event), 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var current <-chan hub.Event
		for {
			select {
			case ch, ok := <-events:
				if !ok {
					return
				}
				current = ch
			case ev, ok := <-current:
				if !ok {
					// Replaced by a resubscription or closed on shutdown.
					current = nil
					continue
				}
				if err := conn.WriteJSON(toServerMsg(ev)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var cmd clientCmd
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Debug().Err(err).Str("subscriber", subID).Msg("stream: bad client command")
			continue
		}

		switch cmd.Type {
		case "subscribe":
			ch := s.subs.Subscribe(subID, cmd.IDs)
			// Drop a swap the pump has not picked up yet. This loop is the
			// only sender, so after the drain the buffered slot is free and
			// the send cannot block.
			select {
			case <-events:
			default:
			}
			events <- ch
		case "unsubscribe":
			s.subs.Unsubscribe(subID)
		}
	}

	close(events)
	<-done
}

func toServerMsg(ev hub.Event) serverMsg {
	switch ev.Type {
	case hub.EventRemoved:
		return serverMsg{Type: "removed", ID: ev.Feed}
	default:
		u := ev.Update
		return serverMsg{
			Type:        "price_update",
			ID:          u.Feed,
			Price:       u.Price,
			Conf:        u.Conf,
			Expo:        u.Expo,
			PublishTime: u.PublishTime,
			Sequence:    u.Sequence,
		}
	}
}
