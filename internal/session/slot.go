package session

import (
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// Slot errors.
var (
	ErrSessionActive = errors.New("a session is already active")
	ErrNoSession     = errors.New("no active session")
)

// State is the occupancy of a slot.
type State string

const (
	StateNoSession State = "no_session"
	StateActive    State = "active"
)

// EndReason records why the previous occupant left the slot.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndAbandoned EndReason = "abandoned"
	EndRestarted EndReason = "restarted"
)

// View is the render-ready projection of the active session.
type View struct {
	TestID          string         `json:"test_id"`
	TestMode        model.TestMode `json:"test_mode"`
	SelectedParts   string         `json:"selected_parts"`
	Answers         map[int]string `json:"answers"`
	Answered        int            `json:"answered"`
	TotalQuestions  int            `json:"total_questions"`
	CurrentQuestion int            `json:"current_question"`
	TimeRemainingMs int64          `json:"time_remaining_ms"`
	Progress        float64        `json:"progress"`
	Expired         bool           `json:"expired"`
}

// Slot holds at most one active session for a tab. Every mutation goes
// through an explicit transition and fires the change hook afterwards.
type Slot[R any, PR model.RecordPtr[R]] struct {
	mu       sync.Mutex
	rec      PR
	lastEnd  EndReason
	now      func() time.Time
	onChange func()
}

// NewSlot returns an empty slot.
func NewSlot[R any, PR model.RecordPtr[R]]() *Slot[R, PR] {
	return &Slot[R, PR]{now: time.Now}
}

// WithClock overrides the time source.
func (s *Slot[R, PR]) WithClock(now func() time.Time) *Slot[R, PR] {
	s.now = now
	return s
}

// OnChange registers fn to run after every transition. fn runs without the slot lock held.
func (s *Slot[R, PR]) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// State reports whether a session occupies the slot.
func (s *Slot[R, PR]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return StateNoSession
	}
	return StateActive
}

// LastEndReason reports how the most recent session left the slot.
func (s *Slot[R, PR]) LastEndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEnd
}

// Start opens a fresh session. The slot must be empty.
func (s *Slot[R, PR]) Start(test model.Test, timeLimit time.Duration, mode model.TestMode, parts []string) (PR, error) {
	s.mu.Lock()
	if s.rec != nil {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}

	now := s.now()
	rec := PR(new(R))
	base := rec.Base()
	base.TestID = test.ID
	base.TestMode = mode
	base.SelectedParts = model.JoinParts(parts)
	base.PartsKey = model.PartsKey(parts)
	base.TotalQuestions = test.TotalQuestions
	base.StartTime = now
	base.TimeLimit = now.Add(timeLimit)
	base.TimeRemaining = base.TimeLimit
	base.Answers = map[int]string{}
	base.SchemaVersion = model.CurrentSchemaVersion
	s.rec = rec

	out := model.CloneRecord[R, PR](rec)
	s.mu.Unlock()

	s.changed()
	return out, nil
}

// Restore occupies the slot with a copy of a persisted record, fields verbatim.
func (s *Slot[R, PR]) Restore(rec PR) error {
	if rec == nil {
		return errors.New("restore: nil record")
	}

	s.mu.Lock()
	if s.rec != nil {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.rec = model.CloneRecord[R, PR](rec)
	if s.rec.Base().Answers == nil {
		s.rec.Base().Answers = map[int]string{}
	}
	s.mu.Unlock()

	s.changed()
	return nil
}

// SaveAnswer inserts or overwrites the answer for questionNumber.
func (s *Slot[R, PR]) SaveAnswer(questionNumber int, text string) error {
	return s.mutate(func(rec PR) {
		rec.Base().Answers[questionNumber] = text
		if o, ok := any(rec).(model.AnswerObserver); ok {
			o.ObserveAnswer(questionNumber, text)
		}
	})
}

// UpdateTimeRemaining re-anchors the countdown as now + remaining.
func (s *Slot[R, PR]) UpdateTimeRemaining(remaining time.Duration) error {
	now := s.now()
	return s.mutate(func(rec PR) {
		rec.Base().TimeRemaining = now.Add(max(remaining, 0))
	})
}

// SetCurrentQuestion records the question the learner is looking at.
func (s *Slot[R, PR]) SetCurrentQuestion(questionNumber int) error {
	return s.mutate(func(rec PR) {
		rec.Base().CurrentQuestion = questionNumber
	})
}

// SetVersion records the durable version the session was last written at.
// It is bookkeeping only and does not fire the change hook.
func (s *Slot[R, PR]) SetVersion(version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		s.rec.Base().Version = version
	}
}

// End empties the slot and returns the session that occupied it, or nil.
func (s *Slot[R, PR]) End(reason EndReason) PR {
	s.mu.Lock()
	ended := s.rec
	s.rec = nil
	if ended != nil {
		s.lastEnd = reason
	}
	s.mu.Unlock()

	if ended != nil {
		s.changed()
	}
	return ended
}

// Snapshot returns a deep copy of the active session, or nil.
func (s *Slot[R, PR]) Snapshot() PR {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneRecord[R, PR](s.rec)
}

// View projects the active session for rendering.
func (s *Slot[R, PR]) View() (View, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return View{}, false
	}

	base := s.rec.Base()
	remaining := base.RemainingAt(now)
	return View{
		TestID:          base.TestID,
		TestMode:        base.TestMode,
		SelectedParts:   base.SelectedParts,
		Answers:         maps.Clone(base.Answers),
		Answered:        len(base.Answers),
		TotalQuestions:  base.TotalQuestions,
		CurrentQuestion: base.CurrentQuestion,
		TimeRemainingMs: remaining.Milliseconds(),
		Progress:        base.Progress(),
		Expired:         remaining == 0,
	}, true
}

func (s *Slot[R, PR]) mutate(fn func(rec PR)) error {
	s.mu.Lock()
	if s.rec == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	fn(s.rec)
	s.mu.Unlock()

	s.changed()
	return nil
}

func (s *Slot[R, PR]) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
