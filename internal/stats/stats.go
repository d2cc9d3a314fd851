// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package stats derives scalar metrics from the merged trace dataset.
//
// Every function here is pure: it reads the dataset and returns a value,
// with no I/O and no retained state. Achievement observation is layered
// separately in achievements.go.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/velohome/velosync/internal/geovelo"
)

// co2GramsPerKm is the car-travel equivalence factor used to express cycled
// distance as avoided emissions.
const co2GramsPerKm = 185.0

// Dataset is the input to all metric functions: the merged trace collection
// plus the freshly fetched zone tokens.
type Dataset struct {
	Traces []geovelo.Trace
	Zones  []geovelo.ZoneID
}

// TotalDistanceMeters sums trace distances.
func TotalDistanceMeters(traces []geovelo.Trace) float64 {
	var total float64
	for _, t := range traces {
		total += t.Distance
	}
	return total
}

// TotalDistanceKm sums trace distances in kilometers.
func TotalDistanceKm(traces []geovelo.Trace) float64 {
	return TotalDistanceMeters(traces) / 1000.0
}

// TotalVerticalGain sums vertical gain in meters. A trace without the field
// contributes zero.
func TotalVerticalGain(traces []geovelo.Trace) float64 {
	var total float64
	for _, t := range traces {
		if t.VerticalGain != nil {
			total += *t.VerticalGain
		}
	}
	return total
}

// TotalDurationSeconds sums trace durations.
func TotalDurationSeconds(traces []geovelo.Trace) int64 {
	var total int64
	for _, t := range traces {
		total += t.Duration
	}
	return total
}

// AverageSpeedKmh returns the overall average speed. The second return is
// false when the total duration is zero and no average is defined.
func AverageSpeedKmh(traces []geovelo.Trace) (float64, bool) {
	duration := TotalDurationSeconds(traces)
	if duration == 0 {
		return 0, false
	}
	hours := float64(duration) / 3600.0
	return TotalDistanceKm(traces) / hours, true
}

// CO2SavedKg expresses total cycled distance as kilograms of car emissions
// avoided.
func CO2SavedKg(traces []geovelo.Trace) float64 {
	return TotalDistanceKm(traces) * co2GramsPerKm / 1000.0
}

// CountNightTrips counts traces flagged as ridden at night. Traces without
// the game-progress structure are not counted.
func CountNightTrips(traces []geovelo.Trace) int {
	count := 0
	for _, t := range traces {
		if t.DuringNight() {
			count++
		}
	}
	return count
}

// ConsecutiveDaysStreak counts how many consecutive calendar days, ending at
// the most recent cycling day, have at least one trip. The streak is zero
// when the most recent cycling day is more than one day before today. All
// day boundaries are evaluated in loc; the caller supplies now so the today
// boundary is stable within a cycle.
func ConsecutiveDaysStreak(loc *time.Location, now time.Time, traces []geovelo.Trace) int {
	if len(traces) == 0 {
		return 0
	}

	days := make(map[string]bool, len(traces))
	var latest time.Time
	for _, t := range traces {
		local := t.StartDatetime.In(loc)
		days[dayKey(local)] = true
		day := startOfDay(local)
		if day.After(latest) {
			latest = day
		}
	}

	today := startOfDay(now.In(loc))
	if latest.Before(today.AddDate(0, 0, -1)) {
		return 0
	}

	streak := 0
	for day := latest; days[dayKey(day)]; day = day.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// LastTrip summarizes the most recently finished trace.
type LastTrip struct {
	TraceID    int64     `json:"trace_id"`
	EndedAt    time.Time `json:"ended_at"`
	DistanceM  float64   `json:"distance_m"`
	DurationS  int64     `json:"duration_s"`
	PreviewURL string    `json:"preview_url"`
}

// MostRecentTrip returns the trace with the maximum end time, with its
// preview fragment resolved against baseURL. The second return is false for
// an empty dataset.
func MostRecentTrip(baseURL string, traces []geovelo.Trace) (*LastTrip, bool) {
	if len(traces) == 0 {
		return nil, false
	}

	best := &traces[0]
	for i := 1; i < len(traces); i++ {
		if traces[i].EndDatetime.After(best.EndDatetime.Time) {
			best = &traces[i]
		}
	}

	return &LastTrip{
		TraceID:    best.ID,
		EndedAt:    best.EndDatetime.Time,
		DistanceM:  best.Distance,
		DurationS:  best.Duration,
		PreviewURL: resolvePreviewURL(baseURL, best.Preview),
	}, true
}

func resolvePreviewURL(baseURL, preview string) string {
	if preview == "" {
		return ""
	}
	if strings.HasPrefix(preview, "http://") || strings.HasPrefix(preview, "https://") {
		return preview
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(preview, "/")
}

// DistinctCyclingDays returns the sorted distinct calendar days (in loc) on
// which a trip started.
func DistinctCyclingDays(loc *time.Location, traces []geovelo.Trace) []string {
	set := make(map[string]bool, len(traces))
	for _, t := range traces {
		set[dayKey(t.StartDatetime.In(loc))] = true
	}
	days := make([]string, 0, len(set))
	for day := range set {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// MetricKind identifies one derived metric.
type MetricKind int

const (
	MetricTotalDistanceKm MetricKind = iota
	MetricTotalVerticalGain
	MetricAverageSpeedKmh
	MetricCO2SavedKg
	MetricNightTrips
	MetricZonesExplored
	MetricStreakDays
)

// String returns the stable name used in API responses and logs.
func (k MetricKind) String() string {
	switch k {
	case MetricTotalDistanceKm:
		return "total_distance_km"
	case MetricTotalVerticalGain:
		return "total_vertical_gain_m"
	case MetricAverageSpeedKmh:
		return "average_speed_kmh"
	case MetricCO2SavedKg:
		return "co2_saved_kg"
	case MetricNightTrips:
		return "night_trips"
	case MetricZonesExplored:
		return "zones_explored"
	case MetricStreakDays:
		return "streak_days"
	default:
		return "unknown"
	}
}

// AllMetricKinds lists every metric kind in presentation order.
func AllMetricKinds() []MetricKind {
	return []MetricKind{
		MetricTotalDistanceKm,
		MetricTotalVerticalGain,
		MetricAverageSpeedKmh,
		MetricCO2SavedKg,
		MetricNightTrips,
		MetricZonesExplored,
		MetricStreakDays,
	}
}

// Compute evaluates one metric over the dataset. The bool return is false
// when the metric has no defined value (undefined average, unknown kind).
func Compute(kind MetricKind, loc *time.Location, now time.Time, dataset Dataset) (float64, bool) {
	switch kind {
	case MetricTotalDistanceKm:
		return TotalDistanceKm(dataset.Traces), true
	case MetricTotalVerticalGain:
		return TotalVerticalGain(dataset.Traces), true
	case MetricAverageSpeedKmh:
		return AverageSpeedKmh(dataset.Traces)
	case MetricCO2SavedKg:
		return CO2SavedKg(dataset.Traces), true
	case MetricNightTrips:
		return float64(CountNightTrips(dataset.Traces)), true
	case MetricZonesExplored:
		return float64(len(dataset.Zones)), true
	case MetricStreakDays:
		return float64(ConsecutiveDaysStreak(loc, now, dataset.Traces)), true
	default:
		return 0, false
	}
}

// ComputeAll evaluates every defined metric. Metrics without a defined
// value are omitted.
func ComputeAll(loc *time.Location, now time.Time, dataset Dataset) map[string]float64 {
	out := make(map[string]float64)
	for _, kind := range AllMetricKinds() {
		if value, ok := Compute(kind, loc, now, dataset); ok {
			out[kind.String()] = value
		}
	}
	return out
}

// ParseMetricKind maps a stable metric name back to its kind.
func ParseMetricKind(name string) (MetricKind, error) {
	for _, kind := range AllMetricKinds() {
		if kind.String() == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}
