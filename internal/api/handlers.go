// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/velohome/velosync/internal/geovelo"
	"github.com/velohome/velosync/internal/stats"
	syncer "github.com/velohome/velosync/internal/sync"
)

// SyncController is the slice of the sync manager the handlers consume.
type SyncController interface {
	LastResult() (*syncer.Result, bool)
	LastError() error
	Status() syncer.Status
	TriggerSync(ctx context.Context) (*syncer.Result, error)
}

const defaultTraceLimit = 50

// tracesQuery carries the validated pagination parameters.
type tracesQuery struct {
	Limit  int `validate:"min=1,max=500"`
	Offset int `validate:"min=0"`
}

// Handler serves all API endpoints.
type Handler struct {
	controller SyncController
	baseURL    string
	location   *time.Location
	startedAt  time.Time
}

// NewHandler wires the handler. baseURL resolves trace preview fragments;
// location sets the day boundary for streak metrics.
func NewHandler(controller SyncController, baseURL string, location *time.Location) *Handler {
	if location == nil {
		location = time.Local
	}
	return &Handler{
		controller: controller,
		baseURL:    baseURL,
		location:   location,
		startedAt:  time.Now(),
	}
}

// HealthLive reports process liveness only.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// Health reports overall service health: degraded while no successful sync
// has happened yet or the latest cycle failed.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := h.controller.Status()
	health := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"sync":           status,
	}

	if status.LastSuccess == nil {
		health["status"] = "starting"
	} else if status.LastError != "" {
		health["status"] = "degraded"
	}

	rw.Success(health)
}

// Stats returns every derived metric over the last successful dataset.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	result, ok := h.controller.LastResult()
	if !ok {
		rw.ServiceUnavailable("no completed sync cycle yet")
		return
	}

	dataset := stats.Dataset{Traces: result.Traces, Zones: result.Zones}
	payload := map[string]interface{}{
		"metrics":      stats.ComputeAll(h.location, time.Now(), dataset),
		"computed_at":  time.Now(),
		"dataset_from": result.CompletedAt,
	}
	rw.Success(payload)
}

// Traces returns a slice of the merged dataset, cache order, paginated with
// limit and offset query parameters.
func (h *Handler) Traces(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	result, ok := h.controller.LastResult()
	if !ok {
		rw.ServiceUnavailable("no completed sync cycle yet")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	total := len(result.Traces)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := result.Traces[offset:end]

	rw.SuccessWithPagination(page, &PaginationMeta{
		Total:   total,
		Count:   len(page),
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	})
}

// Zones returns the zone tokens from the last successful cycle.
func (h *Handler) Zones(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	result, ok := h.controller.LastResult()
	if !ok {
		rw.ServiceUnavailable("no completed sync cycle yet")
		return
	}

	zones := result.Zones
	if zones == nil {
		zones = []geovelo.ZoneID{}
	}
	rw.Success(map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

// LastTrip returns the most recently finished trace with a resolved preview
// URL. 404 when the dataset is empty.
func (h *Handler) LastTrip(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	result, ok := h.controller.LastResult()
	if !ok {
		rw.ServiceUnavailable("no completed sync cycle yet")
		return
	}

	trip, ok := stats.MostRecentTrip(h.baseURL, result.Traces)
	if !ok {
		rw.NotFound("no trips recorded")
		return
	}
	rw.Success(trip)
}

// TriggerSync runs a sync cycle synchronously and returns its outcome.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	result, err := h.controller.TriggerSync(r.Context())
	if err != nil {
		rw.UpstreamError(err)
		return
	}

	rw.Success(map[string]interface{}{
		"traces":     len(result.Traces),
		"new_traces": result.NewTraces,
		"zones":      len(result.Zones),
		"completed":  result.CompletedAt,
	})
}

// SyncStatus reports the manager state.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.controller.Status())
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	q := tracesQuery{Limit: defaultTraceLimit}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		q.Limit, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errInvalidParam("limit", raw)
		}
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		q.Offset, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errInvalidParam("offset", raw)
		}
	}

	if err := validateStruct(&q); err != nil {
		return 0, 0, err
	}
	return q.Limit, q.Offset, nil
}

type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + " parameter: " + e.value
}

func errInvalidParam(name, value string) error {
	return &paramError{name: name, value: value}
}
