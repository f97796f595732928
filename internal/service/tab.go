package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// ErrUnknownExamType is returned for an exam type no collection serves.
var ErrUnknownExamType = errors.New("unknown exam type")

// Tab is the exam-type independent view of an orchestrator used by transports.
type Tab interface {
	UserID() string
	RequestStart(ctx context.Context, test model.Test, timeLimit time.Duration, mode model.TestMode, parts []string) (Prompt, error)
	SaveAnswer(questionNumber int, text string) error
	UpdateTimeRemaining(remaining time.Duration) error
	Navigate(questionNumber int) error
	View() (session.View, bool)
	Snapshot() model.Record
	Complete(ctx context.Context) error
	Abandon()
	TakeOver(ctx context.Context) error
	OnConflict(fn func(stored model.Record))
	OnSaved(fn func(version int64))
	Close()
}

var (
	_ Tab = (*SessionOrchestrator[model.SessionRecord, *model.SessionRecord])(nil)
	_ Tab = (*SessionOrchestrator[model.WritingSessionRecord, *model.WritingSessionRecord])(nil)
)

// Sessions routes requests to the service for each exam type.
type Sessions struct {
	Tests   *TestSessionService
	Writing *WritingSessionService
}

// NewTab opens a tab for examType.
func (s *Sessions) NewTab(examType model.ExamType, userID string, reviewOnly bool) (Tab, error) {
	switch examType {
	case model.ExamTypeListeningReading:
		return s.Tests.NewTab(userID, reviewOnly), nil
	case model.ExamTypeWriting:
		return s.Writing.NewTab(userID, reviewOnly), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExamType, examType)
	}
}

// CheckExisting returns the resumable record, or nil when there is none.
func (s *Sessions) CheckExisting(ctx context.Context, examType model.ExamType, userID, testID string, mode model.TestMode, parts []string) (model.Record, error) {
	switch examType {
	case model.ExamTypeListeningReading:
		if rec := s.Tests.CheckExisting(ctx, userID, testID, mode, parts); rec != nil {
			return rec, nil
		}
		return nil, nil
	case model.ExamTypeWriting:
		if rec := s.Writing.CheckExisting(ctx, userID, testID, mode, parts); rec != nil {
			return rec, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExamType, examType)
	}
}

// ListForUser returns the user's resumable records for examType.
func (s *Sessions) ListForUser(ctx context.Context, examType model.ExamType, userID string) ([]model.Record, error) {
	switch examType {
	case model.ExamTypeListeningReading:
		recs, err := s.Tests.ListForUser(ctx, userID)
		return toRecords(recs), err
	case model.ExamTypeWriting:
		recs, err := s.Writing.ListForUser(ctx, userID)
		return toRecords(recs), err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExamType, examType)
	}
}

// Delete discards one record.
func (s *Sessions) Delete(ctx context.Context, examType model.ExamType, userID, testID string, mode model.TestMode, parts []string) error {
	switch examType {
	case model.ExamTypeListeningReading:
		return s.Tests.Delete(ctx, userID, testID, mode, parts)
	case model.ExamTypeWriting:
		return s.Writing.Delete(ctx, userID, testID, mode, parts)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExamType, examType)
	}
}

// ClearAll empties the collection for examType.
func (s *Sessions) ClearAll(ctx context.Context, examType model.ExamType) error {
	switch examType {
	case model.ExamTypeListeningReading:
		return s.Tests.ClearAll(ctx)
	case model.ExamTypeWriting:
		return s.Writing.ClearAll(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExamType, examType)
	}
}

func toRecords[PR model.Record](recs []PR) []model.Record {
	out := make([]model.Record, len(recs))
	for i, rec := range recs {
		out[i] = rec
	}
	return out
}
