package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCurrentRecord(t *testing.T) {
	start := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)
	rec := &SessionRecord{
		TestID:        "t1",
		TestMode:      TestModeCustom,
		SelectedParts: "5-3",
		StartTime:     start,
		TimeLimit:     start.Add(time.Hour),
		TimeRemaining: start.Add(45 * time.Minute),
		Answers:       map[int]string{1: "B", 12: "A"},
		SchemaVersion: CurrentSchemaVersion,
	}

	payload, err := EncodeRecord(rec)
	require.NoError(t, err)

	var got SessionRecord
	require.NoError(t, DecodeRecord(payload, &got))
	assert.Equal(t, rec.Answers, got.Answers)
	assert.True(t, got.TimeRemaining.Equal(rec.TimeRemaining))
	assert.Equal(t, "5-3", got.SelectedParts)
}

func TestDecodeMigratesVersionOne(t *testing.T) {
	legacy := []byte(`{"test_id":"t1","test_mode":"full","parts_key":"full",` +
		`"saved_at":"2026-05-04T10:00:00Z","time_remaining_ms":1500,"answers":{}}`)

	var got SessionRecord
	require.NoError(t, DecodeRecord(legacy, &got))

	assert.Equal(t, "", got.SelectedParts)
	assert.Equal(t, CurrentSchemaVersion, got.SchemaVersion)
	assert.True(t, got.TimeRemaining.Equal(time.Date(2026, time.May, 4, 10, 0, 1, 500_000_000, time.UTC)))
}

func TestDecodeRejectsFutureSchema(t *testing.T) {
	var got SessionRecord
	err := DecodeRecord([]byte(`{"schema_version":99}`), &got)
	assert.Error(t, err)
}

func TestRecordHelpers(t *testing.T) {
	now := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)
	rec := &SessionRecord{
		TotalQuestions: 4,
		Answers:        map[int]string{1: "A"},
		TimeRemaining:  now.Add(10 * time.Second),
		StartTime:      now.Add(-time.Minute),
	}

	assert.Equal(t, 25.0, rec.Progress())
	assert.Equal(t, 10*time.Second, rec.RemainingAt(now))
	assert.Equal(t, time.Duration(0), rec.RemainingAt(now.Add(time.Minute)))
	assert.Equal(t, rec.StartTime, rec.LastActivity())

	rec.Stamp("", now)
	assert.Equal(t, GuestUserID, rec.UserID)
	assert.Equal(t, now, rec.LastActivity())
}

func TestWritingObserveAnswer(t *testing.T) {
	var w WritingSessionRecord
	w.ObserveAnswer(2, "  one two   three ")
	assert.Equal(t, 3, w.WordCounts[2])
	assert.Same(t, &w.SessionRecord, w.Base())
}
