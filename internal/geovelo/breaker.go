// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package geovelo

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/velohome/velosync/internal/logging"
	"github.com/velohome/velosync/internal/metrics"
)

// BreakerClient wraps Client with a circuit breaker so that a flapping or
// down Geovelo backend stops consuming the sync interval on doomed calls.
//
// The breaker uses real time for its interval and timeout calculations,
// which matters for production recovery rather than data integrity. Unit
// tests exercise the wrapped Client directly.
type BreakerClient struct {
	client API
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewBreakerClient wraps an API implementation with circuit breaker
// protection. The circuit opens after a 60% failure rate over at least 10
// requests, waits 2 minutes before probing, and allows 3 half-open probes.
func NewBreakerClient(client API) *BreakerClient {
	cbName := "geovelo-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute runs an API call under the breaker and records the outcome.
func (bc *BreakerClient) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := bc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(bc.name, "rejected").Inc()
			logging.Warn().Str("op", op).Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, &APIError{Op: op, Err: err}
		}
		metrics.CircuitBreakerRequests.WithLabelValues(bc.name, "failure").Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(bc.name, "success").Inc()
	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Authenticate exchanges credentials with circuit breaker protection.
func (bc *BreakerClient) Authenticate(ctx context.Context) (*Session, error) {
	return castResult[*Session](bc.execute("authenticate", func() (interface{}, error) {
		return bc.client.Authenticate(ctx)
	}))
}

// FetchTraces fetches traces with circuit breaker protection.
func (bc *BreakerClient) FetchTraces(ctx context.Context, session *Session, start, end time.Time) ([]Trace, error) {
	return castResult[[]Trace](bc.execute("fetch_traces", func() (interface{}, error) {
		return bc.client.FetchTraces(ctx, session, start, end)
	}))
}

// FetchZones fetches explored zones with circuit breaker protection.
func (bc *BreakerClient) FetchZones(ctx context.Context, session *Session) ([]ZoneID, error) {
	return castResult[[]ZoneID](bc.execute("fetch_zones", func() (interface{}, error) {
		return bc.client.FetchZones(ctx, session)
	}))
}
