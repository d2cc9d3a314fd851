// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Service wrappers that adapt VeloSync components to the suture.Service
// interface. The sync Manager implements Serve directly and needs no
// wrapper.

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/velohome/velosync/internal/cache"
	"github.com/velohome/velosync/internal/events"
	"github.com/velohome/velosync/internal/logging"
)

// HTTPService runs an http.Server under supervision with graceful shutdown.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps the server. A zero shutdownTimeout defaults to 10s.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. It blocks until the context is canceled
// or the listener fails.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	<-errCh

	logging.Info().Msg("HTTP server stopped")
	return ctx.Err()
}

// CacheGCService runs periodic badger value log garbage collection.
type CacheGCService struct {
	store    *cache.Store
	interval time.Duration
}

// NewCacheGCService wraps the store. A zero interval defaults to 10 minutes.
func NewCacheGCService(store *cache.Store, interval time.Duration) *CacheGCService {
	if interval == 0 {
		interval = 10 * time.Minute
	}
	return &CacheGCService{store: store, interval: interval}
}

// Serve implements suture.Service.
func (s *CacheGCService) Serve(ctx context.Context) error {
	s.store.RunGC(ctx, s.interval)
	return ctx.Err()
}

// NATSService keeps an already started embedded NATS server alive under
// supervision and shuts it down when the tree stops.
type NATSService struct {
	server *events.EmbeddedServer
}

// NewNATSService wraps the embedded server.
func NewNATSService(server *events.EmbeddedServer) *NATSService {
	return &NATSService{server: server}
}

// Serve implements suture.Service.
func (s *NATSService) Serve(ctx context.Context) error {
	if !s.server.IsRunning() {
		return errors.New("embedded nats server not running")
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("embedded NATS shutdown incomplete")
	}
	return ctx.Err()
}
