package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the record shape written by this build.
const CurrentSchemaVersion = 2

// recordMigration rewrites a decoded payload from version N to N+1 in place.
type recordMigration func(doc map[string]any) error

var recordMigrations = map[int]recordMigration{
	1: migrateRecordV1,
}

// EncodeRecord serializes any record shape to its stored payload.
func EncodeRecord(rec any) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeRecord upgrades a stored payload to CurrentSchemaVersion and decodes it.
// Payloads without a schema_version are treated as version 1.
func DecodeRecord(payload []byte, dst any) error {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	version := 1
	if v, ok := doc["schema_version"].(float64); ok && v >= 1 {
		version = int(v)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("record schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	for version < CurrentSchemaVersion {
		step, ok := recordMigrations[version]
		if !ok {
			return fmt.Errorf("no migration from record schema version %d", version)
		}
		if err := step(doc); err != nil {
			return fmt.Errorf("migrate record v%d: %w", version, err)
		}
		version++
	}
	doc["schema_version"] = CurrentSchemaVersion

	upgraded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode record: %w", err)
	}
	if err := json.Unmarshal(upgraded, dst); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// migrateRecordV1 handles payloads written before selected_parts existed and
// while remaining time was still stored as a millisecond countdown.
func migrateRecordV1(doc map[string]any) error {
	if _, ok := doc["selected_parts"]; !ok {
		parts, _ := doc["parts_key"].(string)
		if parts == FullPartsKey {
			parts = ""
		}
		doc["selected_parts"] = parts
	}

	if ms, ok := doc["time_remaining_ms"].(float64); ok {
		anchor := time.Now()
		if raw, ok := doc["saved_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				anchor = t
			}
		}
		doc["time_remaining"] = anchor.Add(time.Duration(ms) * time.Millisecond).Format(time.RFC3339Nano)
		delete(doc, "time_remaining_ms")
	}
	return nil
}
