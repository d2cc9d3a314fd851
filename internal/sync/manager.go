// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/velohome/velosync/internal/events"
	"github.com/velohome/velosync/internal/logging"
	"github.com/velohome/velosync/internal/stats"
)

// Manager owns the periodic sync loop and the stale-but-valid last result.
//
// Cycles are serialized with a mutex: the ticker, the initial refresh and
// manual triggers all funnel through runCycle, so no two cycles overlap.
// A failed cycle records its error but leaves the previous result available
// for consumers.
type Manager struct {
	engine    *Engine
	interval  time.Duration
	publisher events.Publisher
	notifier  *stats.AchievementNotifier
	location  *time.Location

	cycleMu sync.Mutex // serializes cycles

	mu          sync.RWMutex // guards the fields below
	lastResult  *Result
	lastErr     error
	lastAttempt time.Time
	syncing     bool
}

// Status is a point-in-time view of the manager for the API layer.
type Status struct {
	Syncing       bool       `json:"syncing"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	TraceCount    int        `json:"trace_count"`
	ZoneCount     int        `json:"zone_count"`
	NextScheduled *time.Time `json:"next_scheduled,omitempty"`
}

// NewManager wires a manager. location is used for day-boundary metrics;
// pass time.Local for the deployment timezone.
func NewManager(engine *Engine, interval time.Duration, publisher events.Publisher, notifier *stats.AchievementNotifier, location *time.Location) *Manager {
	if location == nil {
		location = time.Local
	}
	return &Manager{
		engine:    engine,
		interval:  interval,
		publisher: publisher,
		notifier:  notifier,
		location:  location,
	}
}

// Serve runs the sync loop until the context ends. It performs an initial
// refresh immediately, then one cycle per interval. Implements
// suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", m.interval).Msg("Sync manager starting")

	m.runCycle(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Sync manager stopping")
			return ctx.Err()
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

// TriggerSync runs one cycle immediately, blocking until it finishes. Safe
// to call concurrently with the scheduled loop.
func (m *Manager) TriggerSync(ctx context.Context) (*Result, error) {
	return m.runCycle(ctx)
}

func (m *Manager) runCycle(ctx context.Context) (*Result, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	m.mu.Lock()
	m.syncing = true
	m.lastAttempt = time.Now()
	m.mu.Unlock()

	result, err := m.engine.RunCycle(ctx)

	m.mu.Lock()
	m.syncing = false
	m.lastErr = err
	if err == nil {
		m.lastResult = result
	}
	m.mu.Unlock()

	if err != nil {
		logging.Warn().Err(err).Msg("Sync cycle failed, previous result stays valid")
		m.publishOutcome(ctx, nil, err)
		return nil, err
	}

	m.afterSuccess(ctx, result)
	return result, nil
}

// afterSuccess computes metrics, fires achievement observers and publishes
// the cycle event for a successful cycle.
func (m *Manager) afterSuccess(ctx context.Context, result *Result) {
	dataset := stats.Dataset{Traces: result.Traces, Zones: result.Zones}
	now := time.Now()

	if m.notifier != nil {
		for _, achievement := range m.notifier.Evaluate(m.location, now, dataset) {
			event := &events.AchievementUnlockedEvent{
				UserID:     result.UserID,
				UnlockedAt: now,
				Category:   achievement.Category,
				Threshold:  achievement.Threshold,
				Value:      achievement.Value,
			}
			if err := m.publisher.PublishAchievement(ctx, event); err != nil {
				logging.Warn().Err(err).Str("category", achievement.Category).Msg("Achievement event publish failed")
			}
		}
	}

	m.publishOutcome(ctx, result, nil)
}

func (m *Manager) publishOutcome(ctx context.Context, result *Result, cycleErr error) {
	event := &events.CycleCompletedEvent{
		CompletedAt: time.Now(),
		Success:     cycleErr == nil,
	}
	if cycleErr != nil {
		event.Error = cycleErr.Error()
		event.UserID = m.engine.userID
	} else {
		event.UserID = result.UserID
		event.TraceCount = len(result.Traces)
		event.NewTraces = result.NewTraces
		event.ZoneCount = len(result.Zones)
		event.Metrics = stats.ComputeAll(m.location, time.Now(), stats.Dataset{Traces: result.Traces, Zones: result.Zones})
	}

	if err := m.publisher.PublishCycleCompleted(ctx, event); err != nil {
		logging.Warn().Err(err).Msg("Cycle event publish failed")
	}
}

// LastResult returns the most recent successful result. ok is false before
// the first successful cycle. The result stays available after later
// failures (stale-but-valid).
func (m *Manager) LastResult() (*Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastResult, m.lastResult != nil
}

// LastError returns the error of the most recent cycle, nil after a
// success.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Status snapshots the manager state for the API layer.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{Syncing: m.syncing}
	if !m.lastAttempt.IsZero() {
		attempt := m.lastAttempt
		status.LastAttempt = &attempt
		next := attempt.Add(m.interval)
		status.NextScheduled = &next
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	if m.lastResult != nil {
		success := m.lastResult.CompletedAt
		status.LastSuccess = &success
		status.TraceCount = len(m.lastResult.Traces)
		status.ZoneCount = len(m.lastResult.Zones)
	}
	return status
}
