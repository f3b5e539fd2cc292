// Command evm-pusher runs the on-chain push engine: it follows a relay's
// price stream and submits updates to EVM oracle contracts whenever a feed's
// staleness or deviation threshold is crossed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meridian-oracle/meridian/internal/chain"
	"github.com/meridian-oracle/meridian/internal/chain/evm"
	"github.com/meridian-oracle/meridian/internal/feed"
	"github.com/meridian-oracle/meridian/internal/pusher"
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
	var (
		endpoint        = flag.String("endpoint", "", "default chain RPC endpoint, used by chains without one in the price config")
		contractAddress = flag.String("contract-address", "", "default oracle contract address, used by chains without one in the price config")
		credentialFile  = flag.String("credential-file", "", "path to the signing credential file (required)")
		priceService    = flag.String("price-service-endpoint", "", "relay endpoint to stream prices from (required)")
		priceConfigFile = flag.String("price-config-file", "", "path to the TOML price config (required)")
		kmsKeyID        = flag.String("kms-key-id", "", "treat the credential file as a KMS ciphertext encrypted under this key")
		awsRegion       = flag.String("aws-region", "", "AWS region for KMS decryption")
		kmsEndpoint     = flag.String("kms-endpoint", "", "AWS endpoint override for local development")
		logLevel        = flag.String("log-level", "info", "log level")
	)
	flag.Parse()
	setupLogging(*logLevel)

	// Wipe any remaining locked buffers on the way out.
	defer memguard.Purge()

	if *credentialFile == "" || *priceService == "" || *priceConfigFile == "" {
		fmt.Fprintln(os.Stderr, "--credential-file, --price-service-endpoint and --price-config-file are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := pusher.LoadPriceConfig(*priceConfigFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", *priceConfigFile).Msg("invalid price config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	key, err := chain.LoadPrivateKey(ctx, chain.CredentialConfig{
		Path:        *credentialFile,
		KMSKeyID:    *kmsKeyID,
		AWSRegion:   *awsRegion,
		KMSEndpoint: *kmsEndpoint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signing credential")
	}

	// The local cache mirrors the relay's stream for the feeds the engines
	// care about. An unreachable relay at startup is fatal.
	cache := feed.NewCache()
	feedClient := pusher.NewFeedClient(*priceService, cfg.FeedIDs(), cache)
	if err := feedClient.Connect(ctx); err != nil {
		log.Fatal().Err(err).Str("endpoint", *priceService).Msg("price service unreachable")
	}
	defer feedClient.Close()
	log.Info().Str("endpoint", *priceService).Int("feeds", len(cfg.FeedIDs())).Msg("price stream connected")

	var wg sync.WaitGroup
	for _, cc := range cfg.Chains {
		rpc := cc.Endpoint
		if rpc == "" {
			rpc = *endpoint
		}
		contract := cc.ContractAddress
		if contract == "" {
			contract = *contractAddress
		}
		if rpc == "" || contract == "" {
			log.Fatal().Str("chain", cc.ID).Msg("chain has no endpoint or contract address and no default was given")
		}

		adapter, err := evm.New(ctx, cc.ID, rpc, contract, key)
		if err != nil {
			log.Fatal().Err(err).Str("chain", cc.ID).Msg("failed to set up chain adapter")
		}
		defer adapter.Close()

		engine := pusher.NewEngine(adapter, cache, cc)
		engine.SeedBaselines(ctx)

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			log.Info().Str("chain", id).Msg("push engine started")
			engine.Run(ctx)
		}(cc.ID)
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	wg.Wait()
	log.Info().Msg("evm-pusher stopped")
}
