// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package events publishes sync lifecycle events for downstream automation.
//
// Two topics exist: one carrying the outcome of each completed sync cycle
// and one carrying achievement milestones. Both flow through Watermill, so
// the transport is pluggable between in-process Go channels and NATS
// JetStream without touching the producers.
package events

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Topics.
const (
	TopicCycleCompleted      = "velosync.cycle.completed"
	TopicAchievementUnlocked = "velosync.achievement.unlocked"
)

// SchemaVersion is the current event payload version.
const SchemaVersion = 1

// CycleCompletedEvent is published after every finished sync cycle,
// successful or not.
type CycleCompletedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	UserID        int64     `json:"user_id"`
	CompletedAt   time.Time `json:"completed_at"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`

	TraceCount int `json:"trace_count"`
	NewTraces  int `json:"new_traces"`
	ZoneCount  int `json:"zone_count"`

	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// AchievementUnlockedEvent is published for each milestone crossed during a
// cycle. The same milestone re-fires on subsequent cycles; consumers dedup
// on (user_id, category, threshold) if they need one-shot behavior.
type AchievementUnlockedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	UserID        int64     `json:"user_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`

	Category  string  `json:"category"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
}

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.New().String()
}

// SerializeEvent encodes an event payload for the wire.
func SerializeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}

// DeserializeCycleCompleted decodes a cycle-completed payload.
func DeserializeCycleCompleted(data []byte) (*CycleCompletedEvent, error) {
	var event CycleCompletedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// DeserializeAchievementUnlocked decodes an achievement payload.
func DeserializeAchievementUnlocked(data []byte) (*AchievementUnlockedEvent, error) {
	var event AchievementUnlockedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
