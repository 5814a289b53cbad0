package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rshell/backend/internal/api"
	"github.com/rshell/backend/internal/bridge"
	"github.com/rshell/backend/internal/config"
	"github.com/rshell/backend/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	log.Info().
		Str("version", cfg.Version).
		Str("env", cfg.Env).
		Msg("Starting rshell backend")

	reg := registry.New(cfg.PtyInputBuffer, cfg.PtyOutputBuffer)

	// The terminal bridge binds its own loopback port; a full port range
	// collision only disables terminals, the rest of the API stays up.
	br := bridge.NewServer(reg, cfg.BridgePortStart, cfg.BridgePortEnd)
	if err := br.Start(); err != nil {
		log.Error().Err(err).Msg("Terminal bridge failed to start")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.APIPort),
		Handler: api.New(reg, br, cfg).Router(),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := br.Close(); err != nil {
		log.Error().Err(err).Msg("Bridge forced to shutdown")
	}

	// Tear down live connections so remote shells do not linger.
	for _, id := range reg.List() {
		if err := reg.Close(id); err != nil {
			log.Debug().Err(err).Str("connection_id", id).Msg("close connection")
		}
	}

	log.Info().Msg("Server exited")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Pretty logging for development
	if cfg.Env == "development" && cfg.LogFormat == "pretty" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
