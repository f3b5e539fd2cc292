// Package api exposes the relay's read surface: REST snapshots, the
// WebSocket subscription stream, and health endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/feed"
	"github.com/meridian-oracle/meridian/internal/hub"
)

// priceFeedJSON is the wire form of one cached price.
type priceFeedJSON struct {
	ID          feed.ID `json:"id"`
	Price       int64   `json:"price"`
	Conf        uint64  `json:"conf"`
	Expo        int32   `json:"expo"`
	PublishTime int64   `json:"publish_time"`
	Sequence    uint64  `json:"seq"`
	ReceivedAt  int64   `json:"received_at"`
}

type latestResponse struct {
	Updates  []priceFeedJSON `json:"updates"`
	NotFound []feed.ID       `json:"not_found,omitempty"`
}

// Snapshotter is the pull-model read surface. Satisfied by *hub.Hub.
type Snapshotter interface {
	Snapshot(ids []feed.ID) (map[feed.ID]feed.Entry, error)
}

// ReadyChecker reports readiness. Satisfied by *feed.Gate.
type ReadyChecker interface {
	Ready() bool
}

// RESTServer serves point-in-time snapshot queries and health probes.
type RESTServer struct {
	hub  Snapshotter
	gate ReadyChecker
	srv  *http.Server
}

// NewRESTServer creates the REST server on the given port.
func NewRESTServer(port int, h Snapshotter, gate ReadyChecker) *RESTServer {
	s := &RESTServer{hub: h, gate: gate}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/latest_price_feeds", s.handleLatest)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *RESTServer) Run(ctx context.Context) error {
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

func (s *RESTServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	rawIDs := r.URL.Query()["ids"]
	if len(rawIDs) == 0 {
		http.Error(w, "ids query parameter is required", http.StatusBadRequest)
		return
	}

	ids := make([]feed.ID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		ids = append(ids, feed.ID(raw))
	}

	snap, err := s.hub.Snapshot(ids)
	if err != nil {
		if errors.Is(err, hub.ErrNotReady) {
			http.Error(w, "price cache is still catching up", http.StatusServiceUnavailable)
			return
		}
		log.Error().Err(err).Msg("api: snapshot failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := latestResponse{Updates: make([]priceFeedJSON, 0, len(snap))}
	for _, id := range ids {
		e, ok := snap[id]
		if !ok {
			resp.NotFound = append(resp.NotFound, id)
			continue
		}
		resp.Updates = append(resp.Updates, priceFeedJSON{
			ID:          e.Latest.Feed,
			Price:       e.Latest.Price,
			Conf:        e.Latest.Conf,
			Expo:        e.Latest.Expo,
			PublishTime: e.Latest.PublishTime,
			Sequence:    e.Latest.Sequence,
			ReceivedAt:  e.ReceivedAt.Unix(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleReady reports catch-up state. Probes must treat 503 as "still
// starting", not as failure.
func (s *RESTServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.gate.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *RESTServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("live"))
}
