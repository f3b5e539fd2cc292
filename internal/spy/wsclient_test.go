package spy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func fastStreamConfig(url string) StreamConfig {
	cfg := DefaultStreamConfig(url)
	cfg.BackoffInitial = 10 * time.Millisecond
	cfg.BackoffMax = 50 * time.Millisecond
	cfg.HeartbeatTimeout = time.Second
	return cfg
}

func TestStreamClient_ReconnectResendsSubscription(t *testing.T) {
	subs := make(chan string, 4)

	var mu sync.Mutex
	conns := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subs <- string(msg)

		if n == 1 {
			// Drop the first connection to force a reconnect.
			return
		}
		// Hold the second connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer ts.Close()

	sc := NewStreamClient(fastStreamConfig(wsURL(ts)), func([]byte) {})
	sc.OnConnect(func() { sc.Send([]byte(`{"type":"subscribe"}`)) })

	if err := sc.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sc.Close()

	for i := 0; i < 2; i++ {
		select {
		case got := <-subs:
			if got != `{"type":"subscribe"}` {
				t.Fatalf("connection %d received %q", i+1, got)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("subscription %d never arrived", i+1)
		}
	}
}

func TestStreamClient_SilentConnectionTriggersReconnect(t *testing.T) {
	dials := make(chan struct{}, 8)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials <- struct{}{}
		// Say nothing; the heartbeat deadline should give up on us.
		conn.ReadMessage()
		conn.Close()
	}))
	defer ts.Close()

	cfg := fastStreamConfig(wsURL(ts))
	cfg.HeartbeatTimeout = 50 * time.Millisecond

	sc := NewStreamClient(cfg, func([]byte) {})
	if err := sc.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sc.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-dials:
		case <-time.After(3 * time.Second):
			t.Fatalf("connection %d never arrived", i+1)
		}
	}
}

func TestStreamClient_CloseWaitsForReadLoop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte("frame")); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	var mu sync.Mutex
	delivered := 0
	sc := NewStreamClient(fastStreamConfig(wsURL(ts)), func([]byte) {
		mu.Lock()
		delivered++
		mu.Unlock()
		time.Sleep(time.Millisecond)
	})

	if err := sc.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	sc.Close()

	select {
	case <-sc.Done():
	default:
		t.Fatal("Done not closed after Close returned")
	}

	// No frame may be delivered once Close has returned.
	mu.Lock()
	before := delivered
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	after := delivered
	mu.Unlock()
	if after != before {
		t.Fatalf("receiver invoked after Close: %d -> %d", before, after)
	}
}
