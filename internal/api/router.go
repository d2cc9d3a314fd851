// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velohome/velosync/internal/middleware"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	CORSAllowedOrigins []string
}

// DefaultRouterConfig returns limits suitable for a single-user deployment.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}
}

// NewRouter assembles the chi router.
func NewRouter(handler *Handler, cfg RouterConfig) chi.Router {
	mwConfig := middleware.DefaultConfig()
	mwConfig.CORSAllowedOrigins = cfg.CORSAllowedOrigins
	mwConfig.RateLimitRequests = cfg.RateLimitRequests
	mwConfig.RateLimitWindow = cfg.RateLimitWindow
	chain := middleware.NewChain(mwConfig)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(chain.CORS())

	r.Get("/health", handler.Health)
	r.Get("/health/live", handler.HealthLive)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chain.RateLimit())
		r.Use(middleware.PrometheusMetrics)

		r.Get("/health", handler.Health)
		r.Get("/stats", handler.Stats)
		r.Get("/traces", handler.Traces)
		r.Get("/zones", handler.Zones)
		r.Get("/last-trip", handler.LastTrip)

		r.Post("/sync", handler.TriggerSync)
		r.Get("/sync/status", handler.SyncStatus)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).NotFound("endpoint not found")
	})

	return r
}
