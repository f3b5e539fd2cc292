package spy

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/metrics"
)

// ConnState reports the health of the stream connection.
type ConnState int32

const (
	ConnUp   ConnState = iota // healthy
	ConnDown                  // reconnecting
)

// StreamConfig holds tunable parameters for a StreamClient.
type StreamConfig struct {
	URL string

	// Buffer sizes for the underlying TCP connection.
	ReadBufferSize  int
	WriteBufferSize int

	// HeartbeatTimeout is the maximum duration of silence before the client
	// considers the connection dead and triggers a reconnect. The spy emits
	// periodic heartbeats, so a healthy connection is never silent that long.
	HeartbeatTimeout time.Duration

	// Backoff parameters for reconnection.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// Headers sent during the WebSocket handshake.
	Headers http.Header
}

// DefaultStreamConfig returns defaults tuned for an attestation stream.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:              url,
		ReadBufferSize:   8192,
		WriteBufferSize:  4096,
		HeartbeatTimeout: 30 * time.Second,
		BackoffInitial:   250 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		BackoffFactor:    2.0,
	}
}

// StreamClient is a resilient WebSocket connection to the spy. It
// reconnects with bounded exponential backoff, monitors heartbeats, and
// hands every inbound frame to the registered receiver. A disconnect never
// propagates upward: the attestation stream simply pauses until the next
// successful dial.
type StreamClient struct {
	cfg StreamConfig

	state atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	// recv receives every inbound frame. Set before Connect.
	recv func([]byte)

	// onConnect runs after every successful dial, including reconnects.
	// The spy client uses it to (re)send its subscription filters.
	onConnect func()

	outbox  chan []byte
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewStreamClient creates a stream client. Call Connect to start.
func NewStreamClient(cfg StreamConfig, recv func([]byte)) *StreamClient {
	return &StreamClient{
		cfg:    cfg,
		recv:   recv,
		outbox: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// State returns the current connection state.
func (sc *StreamClient) State() ConnState {
	return ConnState(sc.state.Load())
}

// OnConnect registers a hook invoked after every successful dial.
func (sc *StreamClient) OnConnect(fn func()) {
	sc.onConnect = fn
}

// Send enqueues a control frame (e.g. a subscription command).
func (sc *StreamClient) Send(data []byte) {
	select {
	case sc.outbox <- data:
	default:
		log.Warn().Int("bytes", len(data)).Msg("spy: outbox full, dropping control frame")
	}
}

// Connect dials the spy and starts the read/write loops. It blocks until
// the initial connection succeeds or ctx is cancelled.
func (sc *StreamClient) Connect(ctx context.Context) error {
	ctx, sc.cancel = context.WithCancel(ctx)

	if err := sc.dial(ctx); err != nil {
		return err
	}
	sc.setState(ConnUp)
	if sc.onConnect != nil {
		sc.onConnect()
	}

	sc.started = true
	go sc.readLoop(ctx)
	go sc.writeLoop(ctx)

	return nil
}

// Close shuts the client down, closes the underlying connection, and waits
// for the read loop to exit. After Close returns, the receiver is never
// invoked again, so callers can safely tear down whatever it feeds.
func (sc *StreamClient) Close() {
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.mu.Lock()
	conn := sc.conn
	sc.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if sc.started {
		<-sc.done
	}
}

// Done returns a channel closed when the read loop exits and no further
// frames will be delivered.
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

func (sc *StreamClient) setState(s ConnState) {
	sc.state.Store(int32(s))
	if s == ConnUp {
		metrics.SpyConnected.Set(1)
	} else {
		metrics.SpyConnected.Set(0)
	}
}

// dial establishes the connection with TCP_NODELAY enabled.
func (sc *StreamClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:  sc.cfg.ReadBufferSize,
		WriteBufferSize: sc.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, sc.cfg.URL, sc.cfg.Headers)
	if err != nil {
		return err
	}

	sc.mu.Lock()
	sc.conn = conn
	sc.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is
// re-established or the context is cancelled.
func (sc *StreamClient) reconnect(ctx context.Context) bool {
	sc.setState(ConnDown)

	delay := sc.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := sc.dial(ctx); err != nil {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("spy: reconnect failed")
			delay = time.Duration(math.Min(
				float64(delay)*sc.cfg.BackoffFactor,
				float64(sc.cfg.BackoffMax),
			))
			continue
		}

		sc.setState(ConnUp)
		log.Info().Str("url", sc.cfg.URL).Msg("spy: reconnected")
		if sc.onConnect != nil {
			sc.onConnect()
		}
		return true
	}
}

// readLoop reads frames and hands them to the receiver. It doubles as the
// heartbeat monitor: silence beyond HeartbeatTimeout triggers a reconnect.
// It owns the done channel; closing it signals that the last frame has been
// delivered.
func (sc *StreamClient) readLoop(ctx context.Context) {
	defer close(sc.done)

	for {
		sc.mu.RLock()
		c := sc.conn
		sc.mu.RUnlock()

		c.SetReadDeadline(time.Now().Add(sc.cfg.HeartbeatTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("spy: read error, reconnecting")
			c.Close()
			if !sc.reconnect(ctx) {
				return
			}
			continue
		}

		sc.recv(msg)
	}
}

// writeLoop drains the outbox onto the connection.
func (sc *StreamClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sc.outbox:
			sc.mu.RLock()
			c := sc.conn
			sc.mu.RUnlock()
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Msg("spy: write error")
			}
		}
	}
}
