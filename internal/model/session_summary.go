package model

import "time"

// SessionSummary is the wire projection of a stored record.
type SessionSummary struct {
	TestID          string         `json:"test_id"`
	TestMode        TestMode       `json:"test_mode"`
	PartsKey        string         `json:"parts_key"`
	SelectedParts   string         `json:"selected_parts"`
	Answers         map[int]string `json:"answers"`
	Answered        int            `json:"answered"`
	TotalQuestions  int            `json:"total_questions"`
	CurrentQuestion int            `json:"current_question"`
	Progress        float64        `json:"progress"`
	StartTime       time.Time      `json:"start_time"`
	TimeLimit       time.Time      `json:"time_limit"`
	TimeRemainingMs int64          `json:"time_remaining_ms"`
	SavedAt         *time.Time     `json:"saved_at,omitempty"`
	Version         int64          `json:"version"`
	WordCounts      map[int]int    `json:"word_counts,omitempty"`
}

// Summarize projects rec as seen at now.
func Summarize(rec Record, now time.Time) SessionSummary {
	base := rec.Base()
	s := SessionSummary{
		TestID:          base.TestID,
		TestMode:        base.TestMode,
		PartsKey:        PartsKey(base.Parts()),
		SelectedParts:   base.SelectedParts,
		Answers:         base.Answers,
		Answered:        len(base.Answers),
		TotalQuestions:  base.TotalQuestions,
		CurrentQuestion: base.CurrentQuestion,
		Progress:        base.Progress(),
		StartTime:       base.StartTime,
		TimeLimit:       base.TimeLimit,
		TimeRemainingMs: base.RemainingAt(now).Milliseconds(),
		SavedAt:         base.SavedAt,
		Version:         base.Version,
	}
	if w, ok := rec.(*WritingSessionRecord); ok {
		s.WordCounts = w.WordCounts
	}
	return s
}
