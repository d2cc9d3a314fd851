// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package sync orchestrates the incremental trace synchronization cycle.
//
// One cycle runs load → window → authenticate → fetch → merge → persist.
// The engine is the single point that decides which failures abort a cycle:
// authentication and API errors do, cache load and save problems degrade to
// warnings. A failed cycle never mutates the persisted snapshot.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/velohome/velosync/internal/cache"
	"github.com/velohome/velosync/internal/config"
	"github.com/velohome/velosync/internal/geovelo"
	"github.com/velohome/velosync/internal/logging"
	"github.com/velohome/velosync/internal/metrics"
)

// lookbackDefault absorbs upstream out-of-order edits: the fetch window
// always starts this far before the newest cached end time.
const lookbackDefault = 7 * 24 * time.Hour

// Bootstrap windows for an empty cache.
const (
	bootstrapDaysDefault = 3600
	bootstrapDaysFast    = 30
)

// ErrForcedFailure is returned when the forced-failure test override is
// active. The cycle aborts before any network call.
var ErrForcedFailure = errors.New("sync failure forced by configuration")

// TraceStore is the persistence surface the engine needs.
type TraceStore interface {
	Load(ctx context.Context, userID int64) (*cache.Snapshot, error)
	Save(ctx context.Context, snapshot *cache.Snapshot) error
	Remove(ctx context.Context, userID int64) error
}

// Result is what a successful cycle hands to consumers: the full merged
// dataset plus the fresh zone fetch. Zones are never cached; they always
// reflect the latest cycle.
type Result struct {
	Traces      []geovelo.Trace
	Zones       []geovelo.ZoneID
	NewTraces   int
	UserID      int64
	CompletedAt time.Time
}

// Engine runs sync cycles. It holds no cycle state between runs; all
// persistence goes through the TraceStore. Callers must not run two cycles
// concurrently for the same user (the Manager serializes invocations).
type Engine struct {
	client geovelo.API
	store  TraceStore
	cfg    *config.SyncConfig
	userID int64

	// now is replaceable for window-computation tests.
	now func() time.Time
}

// NewEngine wires an engine from its collaborators.
func NewEngine(client geovelo.API, store TraceStore, cfg *config.SyncConfig, userID int64) *Engine {
	return &Engine{
		client: client,
		store:  store,
		cfg:    cfg,
		userID: userID,
		now:    time.Now,
	}
}

// RunCycle executes one full sync cycle.
func (e *Engine) RunCycle(ctx context.Context) (*Result, error) {
	started := e.now()

	if e.cfg.ForceFailure {
		metrics.RecordSyncCycle("forced_failure", e.now().Sub(started))
		return nil, ErrForcedFailure
	}

	baseline := e.loadBaseline(ctx)
	start, end := e.computeWindow(baseline)

	logging.Debug().
		Int("baseline", len(baseline)).
		Time("window_start", start).
		Time("window_end", end).
		Msg("Starting sync cycle")

	session, err := e.authenticate(ctx)
	if err != nil {
		metrics.RecordSyncCycle("auth_error", e.now().Sub(started))
		return nil, err
	}

	fetched, zones, err := e.fetch(ctx, session, start, end)
	if err != nil {
		metrics.RecordSyncCycle("api_error", e.now().Sub(started))
		return nil, err
	}

	merged, newCount := mergeTraces(baseline, fetched)

	e.persist(ctx, merged)

	metrics.RecordSyncCycle("success", e.now().Sub(started))
	metrics.TracesCached.Set(float64(len(merged)))
	metrics.TracesFetched.Add(float64(len(fetched)))
	metrics.TracesNew.Add(float64(newCount))
	metrics.ZonesExplored.Set(float64(len(zones)))

	logging.Info().
		Int("traces", len(merged)).
		Int("fetched", len(fetched)).
		Int("new", newCount).
		Int("zones", len(zones)).
		Msg("Sync cycle completed")

	return &Result{
		Traces:      merged,
		Zones:       zones,
		NewTraces:   newCount,
		UserID:      e.userID,
		CompletedAt: e.now(),
	}, nil
}

// loadBaseline reads the cached snapshot. Both the missing-snapshot first
// run and a corrupt snapshot degrade to an empty baseline; only the corrupt
// case is warned about.
func (e *Engine) loadBaseline(ctx context.Context) []geovelo.Trace {
	snapshot, err := e.store.Load(ctx, e.userID)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", e.userID).Msg("Cache load failed, starting from empty baseline")
		return nil
	}
	if snapshot == nil {
		logging.Info().Int64("user_id", e.userID).Msg("No cached snapshot, full-history bootstrap")
		return nil
	}
	return snapshot.Traces
}

// computeWindow derives the fetch date range. A non-empty baseline fetches
// from the newest cached end time minus the lookback buffer; an empty one
// bootstraps the full history, or a shortened window when fast bootstrap is
// enabled.
func (e *Engine) computeWindow(baseline []geovelo.Trace) (time.Time, time.Time) {
	now := e.now()

	if len(baseline) == 0 {
		days := e.cfg.BootstrapDays
		if days <= 0 {
			days = bootstrapDaysDefault
		}
		if e.cfg.FastBootstrap {
			days = bootstrapDaysFast
		}
		return now.AddDate(0, 0, -days), now
	}

	latest := baseline[0].EndDatetime.Time
	for _, t := range baseline[1:] {
		if t.EndDatetime.After(latest) {
			latest = t.EndDatetime.Time
		}
	}

	lookback := e.cfg.Lookback
	if lookback <= 0 {
		lookback = lookbackDefault
	}
	return latest.Add(-lookback), now
}

func (e *Engine) authenticate(ctx context.Context) (*geovelo.Session, error) {
	started := e.now()
	session, err := e.client.Authenticate(ctx)
	metrics.RecordAPIRequest("authenticate", e.now().Sub(started), err)
	if err != nil {
		logging.Error().Err(err).Msg("Authentication failed, aborting cycle")
		return nil, err
	}
	return session, nil
}

func (e *Engine) fetch(ctx context.Context, session *geovelo.Session, start, end time.Time) ([]geovelo.Trace, []geovelo.ZoneID, error) {
	tracesStarted := e.now()
	fetched, err := e.client.FetchTraces(ctx, session, start, end)
	metrics.RecordAPIRequest("fetch_traces", e.now().Sub(tracesStarted), err)
	if err != nil {
		logging.Error().Err(err).Msg("Trace fetch failed, aborting cycle")
		return nil, nil, err
	}

	zonesStarted := e.now()
	zones, err := e.client.FetchZones(ctx, session)
	metrics.RecordAPIRequest("fetch_zones", e.now().Sub(zonesStarted), err)
	if err != nil {
		logging.Error().Err(err).Msg("Zone fetch failed, aborting cycle")
		return nil, nil, err
	}

	return fetched, zones, nil
}

// persist saves the merged dataset. Save failures are swallowed: the cycle
// still returns its in-memory result, and the next cycle simply re-fetches
// a wider range.
func (e *Engine) persist(ctx context.Context, merged []geovelo.Trace) {
	err := e.store.Save(ctx, &cache.Snapshot{
		UserID: e.userID,
		Traces: merged,
	})
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", e.userID).Msg("Cache save failed, result kept in memory only")
	}
}

// Teardown removes all persisted state for the engine's user.
func (e *Engine) Teardown(ctx context.Context) error {
	return e.store.Remove(ctx, e.userID)
}

// mergeTraces appends fetched traces whose id is not already in the
// baseline, preserving baseline order and fetch order for the new tail.
// Existing traces are never updated or removed, even when the upstream
// record changed.
func mergeTraces(baseline, fetched []geovelo.Trace) ([]geovelo.Trace, int) {
	existing := make(map[int64]bool, len(baseline))
	for _, t := range baseline {
		existing[t.ID] = true
	}

	merged := make([]geovelo.Trace, len(baseline), len(baseline)+len(fetched))
	copy(merged, baseline)

	newCount := 0
	for _, t := range fetched {
		if existing[t.ID] {
			continue
		}
		existing[t.ID] = true
		merged = append(merged, t)
		newCount++
	}

	return merged, newCount
}
