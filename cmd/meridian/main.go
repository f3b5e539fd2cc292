// Command meridian runs the price-attestation relay: it consumes the spy
// stream, maintains the monotonic price cache, and serves REST snapshots,
// the WebSocket subscription stream, and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/api"
	"github.com/meridian-oracle/meridian/internal/config"
	"github.com/meridian-oracle/meridian/internal/feed"
	"github.com/meridian-oracle/meridian/internal/hub"
	"github.com/meridian-oracle/meridian/internal/metrics"
	"github.com/meridian-oracle/meridian/internal/spy"
	"github.com/meridian-oracle/meridian/internal/store"
)

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	filters, err := spy.ParseFilters(cfg.SpyServiceFilters)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SPY_SERVICE_FILTERS")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cache := feed.NewCache()
	gate := feed.NewGate(cache,
		time.Duration(cfg.Readiness.SpySyncTimeSeconds)*time.Second,
		cfg.Readiness.NumLoadedSymbols)
	h := hub.New(cache, gate, 256)

	// Optional Redis mirror.
	var writer *store.Writer
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		writer = store.NewWriter(rdb)
		go writer.Run(ctx)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis mirror enabled")
	}

	spyClient := spy.NewClient(cfg.SpyServiceHost, filters)
	if err := spyClient.Connect(ctx); err != nil {
		log.Fatal().Err(err).Str("host", cfg.SpyServiceHost).Msg("spy connection failed")
	}
	log.Info().Str("host", cfg.SpyServiceHost).Int("filters", len(filters)).Msg("spy stream connected")

	// Ingestion: spy stream into the cache, fan-out on acceptance.
	go func() {
		for u := range spyClient.Updates() {
			if !cache.Upsert(u) {
				metrics.CacheRejections.Inc()
				continue
			}
			metrics.CacheSize.Set(float64(cache.Len()))
			h.Publish(u)
			if writer != nil {
				writer.Enqueue(u)
			}
		}
	}()

	// TTL sweep.
	go cache.RunSweeper(ctx,
		time.Duration(cfg.Cache.RemoveExpiredIntervalSeconds)*time.Second,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		func(evicted []feed.ID) {
			metrics.CacheEvictions.Add(float64(len(evicted)))
			metrics.CacheSize.Set(float64(cache.Len()))
			h.PublishRemoval(evicted)
			if writer != nil {
				writer.EnqueueRemoval(evicted)
			}
			log.Info().Int("feeds", len(evicted)).Msg("expired entries swept")
		})

	// Readiness gauge follows the gate until it latches.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if gate.Ready() {
					metrics.Ready.Set(1)
					log.Info().Msg("readiness gate open")
					return
				}
			}
		}
	}()

	rest := api.NewRESTServer(cfg.RESTPort, h, gate)
	stream := api.NewStreamServer(cfg.WSPort, h)

	promMux := http.NewServeMux()
	promMux.Handle("/metrics", metrics.Handler())
	promSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler:           promMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() { errCh <- rest.Run(ctx) }()
	go func() { errCh <- stream.Run(ctx) }()
	go func() {
		err := promSrv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info().
		Int("rest_port", cfg.RESTPort).
		Int("ws_port", cfg.WSPort).
		Int("prometheus_port", cfg.PrometheusPort).
		Msg("meridian relay started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	promSrv.Shutdown(shutdownCtx)

	spyClient.Close()
	h.CloseAll()
	log.Info().Msg("meridian relay stopped")
}
