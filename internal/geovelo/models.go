// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package geovelo

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// timestampLayouts are the encodings the Geovelo API has been observed to
// emit for trace timestamps. Fractional and whole-second forms both occur,
// with and without a colon in the zone offset.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05-0700",
}

// Timestamp is a time.Time that tolerates the API's timestamp variants.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON parses any of the known timestamp layouts.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp is not a JSON string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON encodes the timestamp as RFC 3339 with nanoseconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// ParseTimestamp parses a Geovelo timestamp string, trying each known layout.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// GameProgress is the nested gamification structure attached to some traces.
// It may be entirely absent from the API payload.
type GameProgress struct {
	DuringNight bool `json:"during_night"`
}

// Trace is one recorded cycling trip.
//
// ID is the dedup key: once a trace with a given ID has been cached it is
// never replaced by a later fetch. Geometry, Elevations and Speeds are
// carried as raw JSON; the sync core never interprets them, it only has to
// round-trip them through the cache.
type Trace struct {
	ID            int64           `json:"id"`
	StartDatetime Timestamp       `json:"start_datetime"`
	EndDatetime   Timestamp       `json:"end_datetime"`
	Distance      float64         `json:"distance"`
	Duration      int64           `json:"duration"`
	VerticalGain  *float64        `json:"vertical_gain,omitempty"`
	Preview       string          `json:"preview,omitempty"`
	Geometry      json.RawMessage `json:"geometry,omitempty"`
	Elevations    json.RawMessage `json:"elevations,omitempty"`
	Speeds        json.RawMessage `json:"speeds,omitempty"`

	// GameProgress is nil when the API omits the nested structure. A nil
	// value means "not a night trip", never an error.
	GameProgress *GameProgress `json:"usertracegameprogress,omitempty"`
}

// DuringNight reports whether the trip was flagged as a night trip.
// Absent gamification data counts as false.
func (t *Trace) DuringNight() bool {
	return t.GameProgress != nil && t.GameProgress.DuringNight
}

// ZoneID is one explored geographic cell token. Zones are re-fetched whole on
// every cycle and never persisted.
type ZoneID string

// tracePage is one page of the paginated traces endpoint.
type tracePage struct {
	Results []Trace `json:"results"`
	Next    *string `json:"next"`
}

// Session is the result of a successful authentication: the opaque
// authorization token and the authenticated account's numeric identifier,
// both lifted from the auth response headers.
type Session struct {
	Token  string
	UserID int64
}
