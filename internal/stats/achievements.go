// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package stats

import (
	"time"

	"github.com/velohome/velosync/internal/logging"
	"github.com/velohome/velosync/internal/metrics"
)

// Achievement milestone thresholds per category.
var (
	distanceThresholdsKm = []float64{100, 500, 1000, 5000, 10000}
	zoneThresholds       = []float64{10, 50, 100, 500}
	streakThresholdsDays = []float64{7, 30, 100, 365}
)

// Achievement describes one crossed milestone.
type Achievement struct {
	Category  string  `json:"category"` // "distance", "zones", "streak"
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
}

// Observer receives achievement notifications.
type Observer func(Achievement)

// AchievementNotifier evaluates milestone thresholds after each sync cycle
// and invokes registered observers for every threshold the current value has
// crossed.
//
// No granted-state is tracked: a threshold that was crossed in an earlier
// cycle fires again on every subsequent evaluation. Downstream consumers
// that need one-shot semantics must dedup on (category, threshold).
type AchievementNotifier struct {
	observers []Observer
}

// NewAchievementNotifier creates a notifier with no observers.
func NewAchievementNotifier() *AchievementNotifier {
	return &AchievementNotifier{}
}

// Subscribe registers an observer. Not safe to call concurrently with
// Evaluate; wire observers during startup.
func (n *AchievementNotifier) Subscribe(observer Observer) {
	n.observers = append(n.observers, observer)
}

// Evaluate checks all milestone categories against the dataset and fires
// observers for each crossed threshold. Returns the fired achievements in
// category order.
func (n *AchievementNotifier) Evaluate(loc *time.Location, now time.Time, dataset Dataset) []Achievement {
	var fired []Achievement

	fired = append(fired, n.check("distance", TotalDistanceKm(dataset.Traces), distanceThresholdsKm)...)
	fired = append(fired, n.check("zones", float64(len(dataset.Zones)), zoneThresholds)...)
	fired = append(fired, n.check("streak", float64(ConsecutiveDaysStreak(loc, now, dataset.Traces)), streakThresholdsDays)...)

	return fired
}

func (n *AchievementNotifier) check(category string, value float64, thresholds []float64) []Achievement {
	var fired []Achievement
	for _, threshold := range thresholds {
		if value < threshold {
			break
		}

		achievement := Achievement{Category: category, Threshold: threshold, Value: value}
		fired = append(fired, achievement)
		metrics.AchievementsFired.WithLabelValues(category).Inc()
		logging.Info().Str("category", category).Float64("threshold", threshold).Float64("value", value).Msg("Achievement milestone reached")

		for _, observer := range n.observers {
			observer(achievement)
		}
	}
	return fired
}
