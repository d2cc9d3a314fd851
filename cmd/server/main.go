// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package main is the entry point for the VeloSync server.
//
// VeloSync periodically syncs cycling traces from the Geovelo API for a
// single user, merges them into a local BadgerDB cache, derives riding
// metrics (distance, vertical gain, CO2 saved, streaks, explored zones),
// and publishes cycle and achievement events for home automation consumers.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and config file (Koanf v2)
//  2. Cache: BadgerDB store for the merged trace snapshot
//  3. Geovelo client: HTTP client, optionally wrapped in a circuit breaker
//  4. Events: watermill publisher (in-process channel or NATS JetStream)
//  5. Sync manager: periodic cycle runner with achievement evaluation
//  6. HTTP server: REST API plus Prometheus metrics
//
// All long-running components run under a suture supervisor tree so a
// crash in one layer does not take down the others.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in defaults.
//
//	GEOVELO_USERNAME / GEOVELO_PASSWORD   account credentials
//	GEOVELO_SECRET                        key for encrypted credentials
//	SYNC_INTERVAL                         cycle period (default 1h)
//	CACHE_PATH                            badger directory
//	EVENTS_BACKEND                        disabled, channel, or nats
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// listener drains in-flight requests, the sync manager finishes or
// abandons its cycle, and badger closes flushing its value log.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velohome/velosync/internal/api"
	"github.com/velohome/velosync/internal/cache"
	"github.com/velohome/velosync/internal/config"
	"github.com/velohome/velosync/internal/events"
	"github.com/velohome/velosync/internal/geovelo"
	"github.com/velohome/velosync/internal/logging"
	"github.com/velohome/velosync/internal/stats"
	"github.com/velohome/velosync/internal/supervisor"
	syncer "github.com/velohome/velosync/internal/sync"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("base_url", cfg.Geovelo.BaseURL).
		Int64("user_id", cfg.Geovelo.UserID).
		Dur("interval", cfg.Sync.Interval).
		Str("cache_path", cfg.Cache.Path).
		Msg("Starting VeloSync")

	password, err := cfg.ResolvePassword()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to resolve Geovelo credentials")
	}

	db, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Cache.Path).Msg("Failed to open cache")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache")
		}
	}()
	store := cache.NewStore(db)

	var client geovelo.API = geovelo.NewClient(&cfg.Geovelo, password)
	if cfg.Geovelo.BreakerEnabled {
		client = geovelo.NewBreakerClient(client)
		logging.Info().Msg("Geovelo circuit breaker enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Embedded NATS must be up before the publisher connects to it.
	var natsServer *events.EmbeddedServer
	if cfg.Events.Enabled && cfg.Events.Backend == "nats" && cfg.Events.NATS.EmbeddedServer {
		natsServer, err = events.NewEmbeddedServer(cfg.Events.NATS.StoreDir)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		cfg.Events.NATS.URL = natsServer.ClientURL()
		tree.AddDataService(supervisor.NewNATSService(natsServer))
		logging.Info().Str("url", cfg.Events.NATS.URL).Msg("Embedded NATS server started")
	}

	publisher, _, err := events.NewPublisher(&cfg.Events)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing event publisher")
		}
	}()

	notifier := stats.NewAchievementNotifier()
	engine := syncer.NewEngine(client, store, &cfg.Sync, cfg.Geovelo.UserID)
	manager := syncer.NewManager(engine, cfg.Sync.Interval, publisher, notifier, time.Local)

	tree.AddDataService(supervisor.NewCacheGCService(store, cfg.Cache.GCInterval))
	tree.AddSyncService(manager)

	handler := api.NewHandler(manager, cfg.Geovelo.BaseURL, time.Local)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, 10*time.Second))

	errCh := tree.ServeBackground(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
		select {
		case <-errCh:
		case <-time.After(30 * time.Second):
			logging.Error().Msg("Supervisor tree did not stop in time")
			if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
				for _, svc := range report {
					logging.Error().Str("service", svc.Name).Msg("Service failed to stop")
				}
			}
		}
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("Supervisor tree exited")
			os.Exit(1)
		}
	}

	logging.Info().Msg("VeloSync stopped")
}
