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

	"github.com/alnlive/tokensync/internal/gateway"
	"github.com/alnlive/tokensync/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(parseLevel(getEnv("LOG_LEVEL", "info")))

	port := getEnv("PORT", "8080")
	catalogPath := getEnv("CATALOG_PATH", "config/tokens.json")
	authToken := getEnv("AUTH_TOKEN", "")
	relayEnabled := getEnvAsBool("RELAY_ENABLED", false)
	relayURL := getEnv("NATS_URL", "nats://localhost:4222")

	// A YAML config file overrides the environment where set.
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load config")
		}
		if cfg.Server.Port != "" {
			port = cfg.Server.Port
		}
		if cfg.Server.AuthToken != "" {
			authToken = cfg.Server.AuthToken
		}
		if cfg.Catalog.Path != "" {
			catalogPath = cfg.Catalog.Path
		}
		if cfg.Relay.Enabled {
			relayEnabled = true
		}
		if cfg.Relay.URL != "" {
			relayURL = cfg.Relay.URL
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := setupDatabase(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if pool != nil {
		defer pool.Close()
	}

	svcs, err := setupServices(ctx, catalogPath, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	h := gateway.NewHandler(
		gateway.DefaultConnectionConfig(),
		svcs,
		gateway.StaticTokenAuthenticator{Token: authToken},
	)

	if relayEnabled {
		cfg := relay.DefaultConfig()
		cfg.URL = relayURL
		rl, err := relay.New(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start relay")
		}
		defer rl.Close()
		svcs.Bus.AttachSink(relay.SinkName, rl)
		go rl.Run(ctx)
	}

	go h.Run(ctx)

	server := setupServer(port, h)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	cancel()

	log.Info().Msg("shutdown complete")
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
