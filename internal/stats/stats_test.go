// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package stats

import (
	"math"
	"testing"
	"time"

	"github.com/velohome/velosync/internal/geovelo"
)

func makeTrace(t *testing.T, id int64, start string, distance float64, duration int64) geovelo.Trace {
	t.Helper()
	ts, err := geovelo.ParseTimestamp(start)
	if err != nil {
		t.Fatalf("parse %q: %v", start, err)
	}
	return geovelo.Trace{
		ID:            id,
		StartDatetime: geovelo.Timestamp{Time: ts},
		EndDatetime:   geovelo.Timestamp{Time: ts.Add(time.Duration(duration) * time.Second)},
		Distance:      distance,
		Duration:      duration,
	}
}

func checkFloat(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestTotalDistance(t *testing.T) {
	traces := []geovelo.Trace{
		makeTrace(t, 1, "2024-01-10T08:00:00Z", 5000, 1800),
		makeTrace(t, 2, "2024-01-11T08:00:00Z", 3000, 900),
	}
	checkFloat(t, "TotalDistanceMeters", TotalDistanceMeters(traces), 8000)
	checkFloat(t, "TotalDistanceKm", TotalDistanceKm(traces), 8)
	checkFloat(t, "TotalDistanceMeters empty", TotalDistanceMeters(nil), 0)
}

func TestTotalVerticalGainNilContributesZero(t *testing.T) {
	gain := 57.5
	traces := []geovelo.Trace{
		makeTrace(t, 1, "2024-01-10T08:00:00Z", 5000, 1800),
		makeTrace(t, 2, "2024-01-11T08:00:00Z", 3000, 900),
	}
	traces[0].VerticalGain = &gain

	checkFloat(t, "TotalVerticalGain", TotalVerticalGain(traces), 57.5)
}

func TestAverageSpeedKmh(t *testing.T) {
	t.Run("ten km in one hour", func(t *testing.T) {
		traces := []geovelo.Trace{makeTrace(t, 1, "2024-01-10T08:00:00Z", 10000, 3600)}
		speed, ok := AverageSpeedKmh(traces)
		if !ok {
			t.Fatal("expected a defined average")
		}
		checkFloat(t, "speed", speed, 10.0)
	})

	t.Run("zero duration has no value", func(t *testing.T) {
		traces := []geovelo.Trace{makeTrace(t, 1, "2024-01-10T08:00:00Z", 0, 0)}
		if _, ok := AverageSpeedKmh(traces); ok {
			t.Error("expected no value for zero duration")
		}
	})

	t.Run("empty has no value", func(t *testing.T) {
		if _, ok := AverageSpeedKmh(nil); ok {
			t.Error("expected no value for empty dataset")
		}
	})
}

func TestCO2SavedKg(t *testing.T) {
	traces := []geovelo.Trace{makeTrace(t, 1, "2024-01-10T08:00:00Z", 100000, 3600)}
	// 100 km at 185 g/km
	checkFloat(t, "CO2SavedKg", CO2SavedKg(traces), 18.5)
}

func TestCountNightTrips(t *testing.T) {
	night := makeTrace(t, 1, "2024-01-10T22:00:00Z", 5000, 1800)
	night.GameProgress = &geovelo.GameProgress{DuringNight: true}
	day := makeTrace(t, 2, "2024-01-11T08:00:00Z", 3000, 900)
	day.GameProgress = &geovelo.GameProgress{DuringNight: false}
	unknown := makeTrace(t, 3, "2024-01-12T08:00:00Z", 3000, 900) // no game progress

	if got := CountNightTrips([]geovelo.Trace{night, day, unknown}); got != 1 {
		t.Errorf("night trips = %d, want 1", got)
	}
}

func TestConsecutiveDaysStreak(t *testing.T) {
	utc := time.UTC
	traces := []geovelo.Trace{
		makeTrace(t, 1, "2024-03-01T10:00:00Z", 5000, 1800),
		makeTrace(t, 2, "2024-03-02T10:00:00Z", 5000, 1800),
		makeTrace(t, 3, "2024-03-03T10:00:00Z", 5000, 1800),
	}

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"today is last cycling day", time.Date(2024, 3, 3, 20, 0, 0, 0, utc), 3},
		{"rode yesterday keeps streak", time.Date(2024, 3, 4, 8, 0, 0, 0, utc), 3},
		{"two days gap resets", time.Date(2024, 3, 5, 8, 0, 0, 0, utc), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConsecutiveDaysStreak(utc, tt.now, traces); got != tt.want {
				t.Errorf("streak = %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("empty dataset", func(t *testing.T) {
		if got := ConsecutiveDaysStreak(utc, time.Now(), nil); got != 0 {
			t.Errorf("streak = %d, want 0", got)
		}
	})

	t.Run("gap in history bounds streak", func(t *testing.T) {
		gapped := []geovelo.Trace{
			makeTrace(t, 1, "2024-03-01T10:00:00Z", 5000, 1800),
			// no ride on the 2nd
			makeTrace(t, 3, "2024-03-03T10:00:00Z", 5000, 1800),
			makeTrace(t, 4, "2024-03-04T10:00:00Z", 5000, 1800),
		}
		if got := ConsecutiveDaysStreak(utc, time.Date(2024, 3, 4, 20, 0, 0, 0, utc), gapped); got != 2 {
			t.Errorf("streak = %d, want 2", got)
		}
	})
}

func TestConsecutiveDaysStreakTimezoneBoundary(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 23:30 UTC on March 1st is already March 2nd in Paris.
	traces := []geovelo.Trace{makeTrace(t, 1, "2024-03-01T23:30:00Z", 5000, 1800)}

	now := time.Date(2024, 3, 2, 10, 0, 0, 0, paris)
	if got := ConsecutiveDaysStreak(paris, now, traces); got != 1 {
		t.Errorf("Paris streak = %d, want 1 (ride counts for March 2nd locally)", got)
	}
	if got := ConsecutiveDaysStreak(time.UTC, now, traces); got != 1 {
		t.Errorf("UTC streak = %d, want 1 (ride on March 1st, today March 2nd)", got)
	}
}

func TestMostRecentTrip(t *testing.T) {
	traces := []geovelo.Trace{
		makeTrace(t, 1, "2024-01-10T08:00:00Z", 5000, 1800),
		makeTrace(t, 2, "2024-01-12T08:00:00Z", 3000, 900),
		makeTrace(t, 3, "2024-01-11T08:00:00Z", 4000, 1200),
	}
	traces[1].Preview = "/previews/2.png"

	last, ok := MostRecentTrip("https://backend.geovelo.fr", traces)
	if !ok {
		t.Fatal("expected a last trip")
	}
	if last.TraceID != 2 {
		t.Errorf("trace id = %d, want 2 (max end_datetime)", last.TraceID)
	}
	if last.PreviewURL != "https://backend.geovelo.fr/previews/2.png" {
		t.Errorf("preview url = %q", last.PreviewURL)
	}

	if _, ok := MostRecentTrip("https://backend.geovelo.fr", nil); ok {
		t.Error("expected no result for empty dataset")
	}
}

func TestComputeDispatcher(t *testing.T) {
	dataset := Dataset{
		Traces: []geovelo.Trace{makeTrace(t, 1, "2024-01-10T08:00:00Z", 10000, 3600)},
		Zones:  []geovelo.ZoneID{"a", "b", "c"},
	}
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		kind MetricKind
		want float64
	}{
		{MetricTotalDistanceKm, 10},
		{MetricAverageSpeedKmh, 10},
		{MetricCO2SavedKg, 1.85},
		{MetricNightTrips, 0},
		{MetricZonesExplored, 3},
		{MetricStreakDays, 1},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, ok := Compute(tt.kind, time.UTC, now, dataset)
			if !ok {
				t.Fatalf("Compute(%v) has no value", tt.kind)
			}
			checkFloat(t, tt.kind.String(), got, tt.want)
		})
	}

	t.Run("undefined average omitted from ComputeAll", func(t *testing.T) {
		all := ComputeAll(time.UTC, now, Dataset{})
		if _, present := all["average_speed_kmh"]; present {
			t.Error("average present for empty dataset")
		}
		if all["total_distance_km"] != 0 {
			t.Errorf("total distance = %v", all["total_distance_km"])
		}
	})
}

func TestParseMetricKind(t *testing.T) {
	kind, err := ParseMetricKind("co2_saved_kg")
	if err != nil {
		t.Fatalf("ParseMetricKind: %v", err)
	}
	if kind != MetricCO2SavedKg {
		t.Errorf("kind = %v", kind)
	}

	if _, err := ParseMetricKind("nonsense"); err == nil {
		t.Error("expected error for unknown metric name")
	}
}
