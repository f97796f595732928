package model

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// GuestUserID owns sessions started without an authenticated learner.
const GuestUserID = "guest"

// GuestScopedUserID gives an anonymous client its own key space under the
// guest sentinel.
func GuestScopedUserID(clientID string) string {
	return GuestUserID + ":" + clientID
}

// IsGuestUserID reports whether id is the guest sentinel or a scoped guest.
func IsGuestUserID(id string) bool {
	return id == GuestUserID || strings.HasPrefix(id, GuestUserID+":")
}

// TestMode enumerates whether a learner attempts the whole test or a subset of parts.
type TestMode string

const (
	TestModeFull   TestMode = "full"
	TestModeCustom TestMode = "custom"
)

// ParseTestMode validates a raw mode string.
func ParseTestMode(raw string) (TestMode, error) {
	switch TestMode(strings.ToLower(strings.TrimSpace(raw))) {
	case TestModeFull:
		return TestModeFull, nil
	case TestModeCustom:
		return TestModeCustom, nil
	default:
		return "", fmt.Errorf("unknown test mode %q", raw)
	}
}

// ExamType selects the collection a session lives in.
type ExamType string

const (
	ExamTypeListeningReading ExamType = "test"
	ExamTypeWriting          ExamType = "writing"
)

// Test describes the test definition a session is attempting.
type Test struct {
	ID             string `json:"id"`
	TotalQuestions int    `json:"total_questions"`
}

// SessionKey is the composite identity of a durable session record.
type SessionKey struct {
	UserID   string   `json:"user_id"`
	TestID   string   `json:"test_id"`
	TestMode TestMode `json:"test_mode"`
	PartsKey string   `json:"parts_key"`
}

// NewSessionKey derives the composite key for a part selection.
func NewSessionKey(userID, testID string, mode TestMode, parts []string) SessionKey {
	if userID == "" {
		userID = GuestUserID
	}
	return SessionKey{
		UserID:   userID,
		TestID:   testID,
		TestMode: mode,
		PartsKey: PartsKey(parts),
	}
}

// String renders the key as a colon separated path, used for cache keys and logs.
func (k SessionKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.UserID, k.TestID, k.TestMode, k.PartsKey)
}

// SessionRecord is the persisted state of one in-progress attempt.
//
// TimeLimit and TimeRemaining are absolute instants (start+duration and
// save-time+remaining) so a resumed countdown never accumulates timer drift.
type SessionRecord struct {
	UserID          string         `json:"user_id"`
	TestID          string         `json:"test_id"`
	TestMode        TestMode       `json:"test_mode"`
	PartsKey        string         `json:"parts_key"`
	SelectedParts   string         `json:"selected_parts"`
	TotalQuestions  int            `json:"total_questions"`
	CurrentQuestion int            `json:"current_question"`
	StartTime       time.Time      `json:"start_time"`
	TimeLimit       time.Time      `json:"time_limit"`
	TimeRemaining   time.Time      `json:"time_remaining"`
	Answers         map[int]string `json:"answers"`
	SavedAt         *time.Time     `json:"saved_at,omitempty"`
	Version         int64          `json:"version"`
	SchemaVersion   int            `json:"schema_version"`
}

// Base lets generic code reach the shared fields of any record shape.
func (r *SessionRecord) Base() *SessionRecord { return r }

// Key returns the composite key, re-deriving PartsKey from SelectedParts.
func (r *SessionRecord) Key() SessionKey {
	return NewSessionKey(r.UserID, r.TestID, r.TestMode, SplitParts(r.SelectedParts))
}

// Parts returns the raw part selection as a slice.
func (r *SessionRecord) Parts() []string {
	return SplitParts(r.SelectedParts)
}

// Stamp prepares a record for persistence at now.
func (r *SessionRecord) Stamp(userID string, now time.Time) {
	if userID == "" {
		userID = GuestUserID
	}
	r.UserID = userID
	r.PartsKey = PartsKey(r.Parts())
	if r.StartTime.IsZero() {
		r.StartTime = now
	}
	if r.TimeLimit.IsZero() {
		r.TimeLimit = now
	}
	if r.TimeRemaining.IsZero() {
		r.TimeRemaining = now
	}
	if r.Answers == nil {
		r.Answers = map[int]string{}
	}
	saved := now
	r.SavedAt = &saved
	r.SchemaVersion = CurrentSchemaVersion
}

// LastActivity is the instant used by staleness checks.
func (r *SessionRecord) LastActivity() time.Time {
	if r.SavedAt != nil {
		return *r.SavedAt
	}
	return r.StartTime
}

// RemainingAt converts the absolute TimeRemaining back into a countdown duration.
func (r *SessionRecord) RemainingAt(now time.Time) time.Duration {
	d := r.TimeRemaining.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Progress is the answered fraction in percent, 0 when the total is unknown.
func (r *SessionRecord) Progress() float64 {
	if r.TotalQuestions <= 0 {
		return 0
	}
	p := float64(len(r.Answers)) / float64(r.TotalQuestions) * 100
	return min(p, 100)
}

// WritingSessionRecord extends the shared record with writing-only progress.
type WritingSessionRecord struct {
	SessionRecord
	WordCounts map[int]int `json:"word_counts"`
}

// Record is satisfied by pointers to every persisted record shape.
type Record interface {
	Base() *SessionRecord
}

// RecordPtr constrains PR to a pointer to R that exposes the shared record fields.
type RecordPtr[R any] interface {
	*R
	Record
}

// CloneRecord returns a deep copy of src, or nil when src is nil.
func CloneRecord[R any, PR RecordPtr[R]](src PR) PR {
	if src == nil {
		return nil
	}
	dst := PR(new(R))
	*dst = *src
	if c, ok := any(dst).(interface{ copyRefs() }); ok {
		c.copyRefs()
	}
	return dst
}

func (r *SessionRecord) copyRefs() {
	if r.Answers != nil {
		r.Answers = maps.Clone(r.Answers)
	}
	if r.SavedAt != nil {
		saved := *r.SavedAt
		r.SavedAt = &saved
	}
}

func (w *WritingSessionRecord) copyRefs() {
	w.SessionRecord.copyRefs()
	if w.WordCounts != nil {
		w.WordCounts = maps.Clone(w.WordCounts)
	}
}

// AnswerObserver is implemented by record shapes that derive data from answers.
type AnswerObserver interface {
	ObserveAnswer(questionNumber int, text string)
}

// ObserveAnswer keeps the word count of a writing answer current.
func (w *WritingSessionRecord) ObserveAnswer(questionNumber int, text string) {
	if w.WordCounts == nil {
		w.WordCounts = map[int]int{}
	}
	w.WordCounts[questionNumber] = len(strings.Fields(text))
}
