// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"

	"github.com/goccy/go-json"

	"github.com/velohome/velosync/internal/logging"
)

// normalizeLegacySnapshot upgrades a version 1 snapshot in place.
//
// Version 1 wrote the bulky per-trace fields (geometry, elevations, speeds)
// as gzip-compressed base64 JSON strings. Each field is handled on its own:
// a string value is decoded, a value that is already structured JSON is kept
// as-is with a warning, and an absent value stays absent. Normalization
// never fails; a field that cannot be decoded is dropped rather than
// poisoning the whole dataset.
func normalizeLegacySnapshot(snapshot *Snapshot) {
	for i := range snapshot.Traces {
		trace := &snapshot.Traces[i]
		trace.Geometry = normalizeLegacyField(trace.ID, "geometry", trace.Geometry)
		trace.Elevations = normalizeLegacyField(trace.ID, "elevations", trace.Elevations)
		trace.Speeds = normalizeLegacyField(trace.ID, "speeds", trace.Speeds)
	}
	snapshot.SchemaVersion = CurrentSchemaVersion
}

func normalizeLegacyField(traceID int64, name string, raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		// Already structured JSON. A v1 snapshot should not contain this,
		// but a partially migrated store can.
		logging.Warn().Int64("trace_id", traceID).Str("field", name).Msg("Legacy snapshot field already structured, keeping as-is")
		return raw
	}

	decoded, err := decodeGzipBase64(encoded)
	if err != nil {
		logging.Warn().Err(err).Int64("trace_id", traceID).Str("field", name).Msg("Dropping undecodable legacy snapshot field")
		return nil
	}

	if !json.Valid(decoded) {
		logging.Warn().Int64("trace_id", traceID).Str("field", name).Msg("Dropping legacy snapshot field with invalid JSON payload")
		return nil
	}

	return json.RawMessage(decoded)
}

func decodeGzipBase64(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
