package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/gavel/internal/auction"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/gateway"
	"github.com/gavelhq/gavel/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("port", cfg.Server.Port).
		Int("round_seconds", cfg.Auction.RoundSeconds).
		Bool("nats_relay", cfg.NATS.Enabled).
		Msg("starting auction server")

	// Core session owns registry, ledger and round state. The gateway
	// needs the session for inbound events and the session needs the
	// gateway as its sink, so wiring happens in two steps.
	session := auction.NewSession(auction.Config{
		RoundSeconds:    cfg.Auction.RoundSeconds,
		LeaderboardSize: cfg.Auction.LeaderboardSize,
	}, nil)
	defer session.Close()

	connectionManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), session)

	var sink auction.Sink = connectionManager
	if cfg.NATS.Enabled {
		natsRelay, err := relay.New(relay.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event relay")
		}
		defer natsRelay.Close()
		sink = auction.MultiSink{connectionManager, natsRelay}
	}
	session.SetSink(sink)

	wsHandler := gateway.NewWebSocketHandler(connectionManager)
	server := setupServer(cfg, session, wsHandler)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start broadcast fan-out
	go connectionManager.Start(ctx)

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	log.Info().Msg("auction server shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
