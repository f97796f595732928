package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// SessionStore is the persistence surface the session service needs.
type SessionStore[R any, PR model.RecordPtr[R]] interface {
	Collection() string
	Get(ctx context.Context, userID, testID string, mode model.TestMode, parts []string) (PR, error)
	Save(ctx context.Context, userID string, rec PR) error
	SaveIfVersion(ctx context.Context, userID string, rec PR, expected int64) error
	Delete(ctx context.Context, userID, testID string, mode model.TestMode, parts []string) error
	ListForUser(ctx context.Context, userID string) ([]PR, error)
	ClearAll(ctx context.Context) error
}

// SessionService owns one collection's resume policy and creates per-tab orchestrators.
type SessionService[R any, PR model.RecordPtr[R]] struct {
	store      SessionStore[R, PR]
	staleAfter time.Duration
	tabOpts    TabOptions
	now        func() time.Time
	log        zerolog.Logger
}

// TestSessionService serves listening/reading sessions.
type TestSessionService = SessionService[model.SessionRecord, *model.SessionRecord]

// WritingSessionService serves writing sessions.
type WritingSessionService = SessionService[model.WritingSessionRecord, *model.WritingSessionRecord]

// NewSessionService creates a service over store. staleAfter of zero disables
// the staleness policy.
func NewSessionService[R any, PR model.RecordPtr[R]](store SessionStore[R, PR], staleAfter time.Duration, tabOpts TabOptions, log zerolog.Logger) *SessionService[R, PR] {
	return &SessionService[R, PR]{
		store:      store,
		staleAfter: staleAfter,
		tabOpts:    tabOpts,
		now:        time.Now,
		log:        log.With().Str("component", "session_service").Str("collection", store.Collection()).Logger(),
	}
}

// WithClock overrides the time source used by the staleness policy and new tabs.
func (s *SessionService[R, PR]) WithClock(now func() time.Time) *SessionService[R, PR] {
	s.now = now
	return s
}

// Collection names the collection the service works on.
func (s *SessionService[R, PR]) Collection() string { return s.store.Collection() }

// CheckExisting returns the resumable record for the configuration, or nil.
// Store failures and stale records both read as nil.
func (s *SessionService[R, PR]) CheckExisting(ctx context.Context, userID, testID string, mode model.TestMode, parts []string) PR {
	rec, err := s.store.Get(ctx, userID, testID, mode, parts)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		s.log.Warn().Err(err).
			Str("user_id", userID).
			Str("test_id", testID).
			Msg("Session lookup failed, continuing without resume")
		return nil
	}

	if s.isStale(rec) {
		s.log.Info().
			Str("key", rec.Base().Key().String()).
			Time("last_activity", rec.Base().LastActivity()).
			Msg("Discarding stale session")
		if err := s.store.Delete(ctx, userID, testID, mode, parts); err != nil {
			s.log.Warn().Err(err).Msg("Stale session delete failed")
		}
		return nil
	}
	return rec
}

// ListForUser returns the user's resumable sessions, most recent first.
func (s *SessionService[R, PR]) ListForUser(ctx context.Context, userID string) ([]PR, error) {
	recs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]PR, 0, len(recs))
	for _, rec := range recs {
		if !s.isStale(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete discards the record for the configuration. Missing records are not an error.
func (s *SessionService[R, PR]) Delete(ctx context.Context, userID, testID string, mode model.TestMode, parts []string) error {
	return s.store.Delete(ctx, userID, testID, mode, parts)
}

// ClearAll empties the collection.
func (s *SessionService[R, PR]) ClearAll(ctx context.Context) error {
	return s.store.ClearAll(ctx)
}

// NewTab creates the orchestrator for one connected exam view.
func (s *SessionService[R, PR]) NewTab(userID string, reviewOnly bool) *SessionOrchestrator[R, PR] {
	opts := s.tabOpts
	opts.ReviewOnly = opts.ReviewOnly || reviewOnly
	return newSessionOrchestrator(s, userID, opts)
}

func (s *SessionService[R, PR]) isStale(rec PR) bool {
	if s.staleAfter <= 0 {
		return false
	}
	return s.now().Sub(rec.Base().LastActivity()) > s.staleAfter
}
