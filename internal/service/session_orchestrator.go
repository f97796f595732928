package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/worker"
)

// TabOptions tunes the per-tab persistence behavior.
type TabOptions struct {
	AutosaveDebounce time.Duration
	// AutosaveMaxWait caps how long steady changes, such as the per-second
	// timer, can hold back a save. Zero means five debounce periods.
	AutosaveMaxWait time.Duration
	RestartGuardTTL time.Duration
	RestartSettle   time.Duration
	SaveTimeout     time.Duration
	// ReviewOnly tabs display past attempts and never autosave.
	ReviewOnly bool
}

// DefaultTabOptions mirrors the configuration defaults.
func DefaultTabOptions() TabOptions {
	return TabOptions{
		AutosaveDebounce: time.Second,
		AutosaveMaxWait:  5 * time.Second,
		RestartGuardTTL:  2 * time.Second,
		RestartSettle:    100 * time.Millisecond,
		SaveTimeout:      5 * time.Second,
	}
}

// Prompt is handed to the caller when unfinished work exists for the requested configuration.
type Prompt interface {
	Record() model.Record
	Continue(ctx context.Context) error
	Restart(ctx context.Context) error
}

// SessionOrchestrator drives one tab: it decides between a fresh start and a
// resume prompt, and mirrors the in-memory session into the durable store
// through a debounced, version-checked autosave.
type SessionOrchestrator[R any, PR model.RecordPtr[R]] struct {
	svc    *SessionService[R, PR]
	userID string
	opts   TabOptions
	slot   *session.Slot[R, PR]
	log    zerolog.Logger

	autosave *worker.Debouncer

	// mu serializes durable writes with slot occupancy changes.
	mu sync.Mutex

	guard      atomic.Bool
	guardMu    sync.Mutex
	guardTimer *time.Timer

	hookMu     sync.Mutex
	onConflict func(stored model.Record)
	onSaved    func(version int64)

	closed atomic.Bool
}

func newSessionOrchestrator[R any, PR model.RecordPtr[R]](svc *SessionService[R, PR], userID string, opts TabOptions) *SessionOrchestrator[R, PR] {
	if userID == "" {
		userID = model.GuestUserID
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.AutosaveMaxWait <= 0 {
		opts.AutosaveMaxWait = 5 * opts.AutosaveDebounce
	}

	o := &SessionOrchestrator[R, PR]{
		svc:    svc,
		userID: userID,
		opts:   opts,
		slot:   session.NewSlot[R, PR]().WithClock(svc.now),
		log: svc.log.With().
			Str("component", "session_orchestrator").
			Str("user_id", userID).
			Logger(),
	}
	o.autosave = worker.NewDebouncer(opts.AutosaveDebounce, o.persist).WithMaxWait(opts.AutosaveMaxWait)
	o.slot.OnChange(o.autosave.Trigger)

	metrics.ActiveTabs.Inc()
	return o
}

// OnConflict registers fn to run when another writer advanced the durable record.
func (o *SessionOrchestrator[R, PR]) OnConflict(fn func(stored model.Record)) {
	o.hookMu.Lock()
	o.onConflict = fn
	o.hookMu.Unlock()
}

// OnSaved registers fn to run after each successful autosave.
func (o *SessionOrchestrator[R, PR]) OnSaved(fn func(version int64)) {
	o.hookMu.Lock()
	o.onSaved = fn
	o.hookMu.Unlock()
}

// UserID is the learner the tab belongs to.
func (o *SessionOrchestrator[R, PR]) UserID() string { return o.userID }

// Slot exposes the tab's in-memory session.
func (o *SessionOrchestrator[R, PR]) Slot() *session.Slot[R, PR] { return o.slot }

// RequestStart begins an attempt. It returns a nil Prompt after a fresh start,
// or a Prompt when a matching unfinished record exists, in which case the
// in-memory session is left untouched until the caller chooses.
func (o *SessionOrchestrator[R, PR]) RequestStart(ctx context.Context, test model.Test, timeLimit time.Duration, mode model.TestMode, parts []string) (Prompt, error) {
	if o.slot.State() == session.StateActive {
		return nil, session.ErrSessionActive
	}

	existing := o.svc.CheckExisting(ctx, o.userID, test.ID, mode, parts)
	if existing != nil {
		o.log.Info().
			Str("key", existing.Base().Key().String()).
			Int("answered", len(existing.Base().Answers)).
			Msg("Unfinished session found")
		return &ResumePrompt[R, PR]{
			o:         o,
			existing:  existing,
			test:      test,
			timeLimit: timeLimit,
			mode:      mode,
			parts:     parts,
		}, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.slot.Start(test, timeLimit, mode, parts); err != nil {
		return nil, err
	}
	o.log.Info().Str("test_id", test.ID).Str("mode", string(mode)).Msg("Session started")
	return nil, nil
}

// CheckExisting returns the resumable record for this tab's learner, or nil.
func (o *SessionOrchestrator[R, PR]) CheckExisting(ctx context.Context, testID string, mode model.TestMode, parts []string) PR {
	return o.svc.CheckExisting(ctx, o.userID, testID, mode, parts)
}

// SaveAnswer records an answer in memory; persistence follows on the debounce.
func (o *SessionOrchestrator[R, PR]) SaveAnswer(questionNumber int, text string) error {
	return o.slot.SaveAnswer(questionNumber, text)
}

// UpdateTimeRemaining re-anchors the countdown.
func (o *SessionOrchestrator[R, PR]) UpdateTimeRemaining(remaining time.Duration) error {
	return o.slot.UpdateTimeRemaining(remaining)
}

// Navigate records the question on screen.
func (o *SessionOrchestrator[R, PR]) Navigate(questionNumber int) error {
	return o.slot.SetCurrentQuestion(questionNumber)
}

// View projects the active session for rendering.
func (o *SessionOrchestrator[R, PR]) View() (session.View, bool) { return o.slot.View() }

// Snapshot returns a copy of the active session, or nil.
func (o *SessionOrchestrator[R, PR]) Snapshot() model.Record {
	if snap := o.slot.Snapshot(); snap != nil {
		return snap
	}
	return nil
}

// Complete finishes the attempt normally: the durable record is deleted so the
// test no longer reads as in progress, and the slot is emptied.
func (o *SessionOrchestrator[R, PR]) Complete(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ended := o.slot.End(session.EndCompleted)
	if ended == nil {
		return session.ErrNoSession
	}
	o.autosave.Cancel()

	base := ended.Base()
	if err := o.svc.store.Delete(ctx, o.userID, base.TestID, base.TestMode, base.Parts()); err != nil {
		o.log.Warn().Err(err).Str("key", base.Key().String()).Msg("Completed session delete failed")
	}
	o.log.Info().Str("test_id", base.TestID).Int("answered", len(base.Answers)).Msg("Session completed")
	return nil
}

// Abandon leaves the attempt without deleting it, so it stays resumable.
// Any pending autosave is written first.
func (o *SessionOrchestrator[R, PR]) Abandon() {
	o.autosave.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.slot.End(session.EndAbandoned) != nil {
		o.autosave.Cancel()
		o.log.Info().Msg("Session abandoned")
	}
}

// TakeOver overwrites the durable record with this tab's state after a conflict.
func (o *SessionOrchestrator[R, PR]) TakeOver(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := o.slot.Snapshot()
	if snap == nil {
		return session.ErrNoSession
	}
	if err := o.svc.store.Save(ctx, o.userID, snap); err != nil {
		metrics.Autosaves.WithLabelValues(o.svc.Collection(), "failed").Inc()
		o.log.Error().Err(err).Msg("Takeover save failed")
		return err
	}
	o.slot.SetVersion(snap.Base().Version)
	o.log.Warn().Int64("version", snap.Base().Version).Msg("Session taken over from another writer")
	return nil
}

// Close releases the tab. A pending autosave is cancelled, not flushed.
func (o *SessionOrchestrator[R, PR]) Close() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	o.autosave.Close()
	o.guardMu.Lock()
	if o.guardTimer != nil {
		o.guardTimer.Stop()
	}
	o.guardMu.Unlock()
	metrics.ActiveTabs.Dec()
}

// RestartGuarded reports whether the restart guard is currently up.
func (o *SessionOrchestrator[R, PR]) RestartGuarded() bool { return o.guard.Load() }

// persist is the debounced autosave. It writes a snapshot taken at fire time
// and never changes the in-memory session on failure.
func (o *SessionOrchestrator[R, PR]) persist() {
	collection := o.svc.Collection()
	if o.opts.ReviewOnly {
		metrics.Autosaves.WithLabelValues(collection, "skipped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.SaveTimeout)
	defer cancel()

	snap, err := o.saveSnapshot(ctx)
	switch {
	case snap == nil:
		return
	case err == nil:
		metrics.Autosaves.WithLabelValues(collection, "saved").Inc()
		o.hookMu.Lock()
		fn := o.onSaved
		o.hookMu.Unlock()
		if fn != nil {
			fn(snap.Base().Version)
		}
	case errors.Is(err, repository.ErrVersionConflict):
		metrics.Autosaves.WithLabelValues(collection, "conflict").Inc()
		o.log.Warn().Err(err).Msg("Autosave lost to another writer")
		o.reportConflict(ctx, snap)
	default:
		metrics.Autosaves.WithLabelValues(collection, "failed").Inc()
		o.log.Error().Err(err).Msg("Autosave failed, session continues in memory")
	}
}

// saveSnapshot writes the current session at its known version. It returns a
// nil snapshot when there was nothing to write.
func (o *SessionOrchestrator[R, PR]) saveSnapshot(ctx context.Context) (PR, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.guard.Load() {
		metrics.Autosaves.WithLabelValues(o.svc.Collection(), "skipped").Inc()
		return nil, nil
	}
	snap := o.slot.Snapshot()
	if snap == nil {
		return nil, nil
	}

	if err := o.svc.store.SaveIfVersion(ctx, o.userID, snap, snap.Base().Version); err != nil {
		return snap, err
	}
	o.slot.SetVersion(snap.Base().Version)
	return snap, nil
}

func (o *SessionOrchestrator[R, PR]) reportConflict(ctx context.Context, snap PR) {
	o.hookMu.Lock()
	fn := o.onConflict
	o.hookMu.Unlock()
	if fn == nil {
		return
	}

	base := snap.Base()
	var stored model.Record
	if rec, err := o.svc.store.Get(ctx, o.userID, base.TestID, base.TestMode, base.Parts()); err == nil {
		stored = rec
	}
	fn(stored)
}

// raiseGuard suppresses autosave until lowerGuard or the TTL, whichever is first.
func (o *SessionOrchestrator[R, PR]) raiseGuard() {
	o.guard.Store(true)

	o.guardMu.Lock()
	defer o.guardMu.Unlock()
	if o.guardTimer != nil {
		o.guardTimer.Stop()
	}
	o.guardTimer = time.AfterFunc(o.opts.RestartGuardTTL, func() {
		o.log.Warn().Msg("Restart guard expired before restart finished")
		o.lowerGuard()
	})
}

// lowerGuard clears the guard and schedules the autosave it held back.
func (o *SessionOrchestrator[R, PR]) lowerGuard() {
	o.guardMu.Lock()
	if o.guardTimer != nil {
		o.guardTimer.Stop()
		o.guardTimer = nil
	}
	o.guardMu.Unlock()

	if o.guard.CompareAndSwap(true, false) && o.slot.State() == session.StateActive {
		o.autosave.Trigger()
	}
}

// ResumePrompt offers the continue/restart choice for a found record.
type ResumePrompt[R any, PR model.RecordPtr[R]] struct {
	o         *SessionOrchestrator[R, PR]
	existing  PR
	test      model.Test
	timeLimit time.Duration
	mode      model.TestMode
	parts     []string
}

// Record is the unfinished record that was found.
func (p *ResumePrompt[R, PR]) Record() model.Record { return p.existing }

// Existing is Record with its concrete type.
func (p *ResumePrompt[R, PR]) Existing() PR { return p.existing }

// Continue restores the found record into memory. Storage is not touched.
func (p *ResumePrompt[R, PR]) Continue(ctx context.Context) error {
	o := p.o
	o.mu.Lock()
	defer o.mu.Unlock()

	o.slot.End(session.EndAbandoned)
	if err := o.slot.Restore(p.existing); err != nil {
		return err
	}
	o.log.Info().
		Str("key", p.existing.Base().Key().String()).
		Int("answered", len(p.existing.Base().Answers)).
		Msg("Session restored")
	return nil
}

// Restart discards the found record and starts over with fresh state. Autosave
// is suppressed from the moment the old state is dropped until the new one exists.
func (p *ResumePrompt[R, PR]) Restart(ctx context.Context) error {
	o := p.o
	o.raiseGuard()
	defer o.lowerGuard()
	o.autosave.Cancel()

	o.mu.Lock()
	o.slot.End(session.EndRestarted)
	deleteErr := o.svc.store.Delete(ctx, o.userID, p.test.ID, p.mode, p.parts)
	if deleteErr != nil {
		o.log.Warn().Err(deleteErr).Str("test_id", p.test.ID).Msg("Restart delete failed, starting fresh anyway")
	}
	o.mu.Unlock()

	if o.opts.RestartSettle > 0 {
		select {
		case <-time.After(o.opts.RestartSettle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.slot.Start(p.test, p.timeLimit, p.mode, p.parts); err != nil {
		return err
	}
	// The old record is still stored, so the fresh session overwrites it.
	if deleteErr != nil {
		o.slot.SetVersion(p.existing.Base().Version)
	}
	o.log.Info().Str("test_id", p.test.ID).Msg("Session restarted")
	return nil
}
