// SOURCE server - authoritative message log, completion proxy, and
// community feed for the SOURCE terminal client.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/yessusuper/alpha-source/internal/api"
	"github.com/yessusuper/alpha-source/internal/config"
	"github.com/yessusuper/alpha-source/internal/feed"
	"github.com/yessusuper/alpha-source/internal/genai"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := feed.Open(ctx, filepath.Join(cfg.Server.DataDir, "source.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	provider := genai.NewHTTPProvider(genai.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
	})

	handler := api.NewHandler(store, provider, cfg.Server.ImagesDir, cfg.Server.UploadsDir, logger)
	handler.UpdateDefaults(cfg.Generation.Params())

	router := api.NewRouter(handler, logger, api.RouterConfig{
		ImagesDir:      cfg.Server.ImagesDir,
		UploadsDir:     cfg.Server.UploadsDir,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// Live-reload the generation defaults when the config file changes.
	if path, err := config.ConfigPath(); err == nil {
		go func() {
			err := config.Watch(ctx, path, logger, func(fresh *config.Config) {
				handler.UpdateDefaults(fresh.Generation.Params())
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}
