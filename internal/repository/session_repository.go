package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
)

// Session store errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrVersionConflict = errors.New("session was modified by another writer")
)

// SessionStore performs keyed CRUD over one session collection. It is
// instantiated once per record shape; see TestSessionStore and WritingSessionStore.
type SessionStore[R any, PR model.RecordPtr[R]] struct {
	store      *database.Store
	collection string
	log        zerolog.Logger
	now        func() time.Time

	rdb      *redis.Client
	cacheTTL time.Duration
}

// TestSessionStore persists listening/reading attempts.
type TestSessionStore = SessionStore[model.SessionRecord, *model.SessionRecord]

// WritingSessionStore persists writing attempts.
type WritingSessionStore = SessionStore[model.WritingSessionRecord, *model.WritingSessionRecord]

// NewSessionStore creates a store over collection.
func NewSessionStore[R any, PR model.RecordPtr[R]](store *database.Store, collection string, log zerolog.Logger) *SessionStore[R, PR] {
	return &SessionStore[R, PR]{
		store:      store,
		collection: collection,
		log:        log.With().Str("component", "session_repository").Str("collection", collection).Logger(),
		now:        time.Now,
	}
}

// NewTestSessionStore creates the listening/reading session store.
func NewTestSessionStore(store *database.Store, log zerolog.Logger) *TestSessionStore {
	return NewSessionStore[model.SessionRecord](store, database.CollectionTestSessions, log)
}

// NewWritingSessionStore creates the writing session store.
func NewWritingSessionStore(store *database.Store, log zerolog.Logger) *WritingSessionStore {
	return NewSessionStore[model.WritingSessionRecord](store, database.CollectionWritingSessions, log)
}

// WithCache enables the redis read-through cache. Cache failures never fail an operation.
func (s *SessionStore[R, PR]) WithCache(rdb *redis.Client, ttl time.Duration) *SessionStore[R, PR] {
	s.rdb = rdb
	s.cacheTTL = ttl
	return s
}

// WithClock overrides the time source used for SavedAt stamps.
func (s *SessionStore[R, PR]) WithClock(now func() time.Time) *SessionStore[R, PR] {
	s.now = now
	return s
}

// Collection returns the collection name.
func (s *SessionStore[R, PR]) Collection() string { return s.collection }

// Save upserts rec under its composite key, stamping SavedAt and filling
// missing timestamps. Saving the same session twice leaves one record.
func (s *SessionStore[R, PR]) Save(ctx context.Context, userID string, rec PR) error {
	base := rec.Base()
	base.Stamp(userID, s.now())
	key := base.Key()

	payload, err := model.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	var version int64
	err = s.store.Run(ctx, func(ctx context.Context, h *database.Handle) error {
		stmt := h.SQL().
			Insert(s.collection).
			Columns("user_id", "test_id", "test_mode", "parts_key", "payload", "version", "saved_at").
			Values(key.UserID, key.TestID, string(key.TestMode), key.PartsKey, string(payload), 1, base.SavedAt.UnixMilli()).
			Suffix(fmt.Sprintf(
				"ON CONFLICT (user_id, test_id, test_mode, parts_key) DO UPDATE SET "+
					"payload = excluded.payload, version = %s.version + 1, saved_at = excluded.saved_at "+
					"RETURNING version", s.collection))
		return h.Scan(ctx, stmt, &version)
	})
	metrics.ObserveStore(s.collection, "save", err)
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}

	base.Version = version
	s.cachePut(ctx, key, rec)
	return nil
}

// SaveIfVersion writes rec only if the stored version still equals expected.
// expected == 0 means the record must not exist yet. A lost race returns
// ErrVersionConflict and leaves the stored record untouched.
func (s *SessionStore[R, PR]) SaveIfVersion(ctx context.Context, userID string, rec PR, expected int64) error {
	base := rec.Base()
	base.Stamp(userID, s.now())
	key := base.Key()

	payload, err := model.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	savedAt := base.SavedAt.UnixMilli()

	var version int64
	err = s.store.Run(ctx, func(ctx context.Context, h *database.Handle) error {
		var stmt sq.Sqlizer
		if expected == 0 {
			stmt = h.SQL().
				Insert(s.collection).
				Columns("user_id", "test_id", "test_mode", "parts_key", "payload", "version", "saved_at").
				Values(key.UserID, key.TestID, string(key.TestMode), key.PartsKey, string(payload), 1, savedAt).
				Suffix("ON CONFLICT (user_id, test_id, test_mode, parts_key) DO NOTHING RETURNING version")
		} else {
			stmt = h.SQL().
				Update(s.collection).
				Set("payload", string(payload)).
				Set("version", sq.Expr("version + 1")).
				Set("saved_at", savedAt).
				Where(keyEq(key)).
				Where(sq.Eq{"version": expected}).
				Suffix("RETURNING version")
		}
		return h.Scan(ctx, stmt, &version)
	})
	if errors.Is(err, sql.ErrNoRows) {
		metrics.StoreOps.WithLabelValues(s.collection, "save_cas", "conflict").Inc()
		return fmt.Errorf("save session %s at version %d: %w", key, expected, ErrVersionConflict)
	}
	metrics.ObserveStore(s.collection, "save_cas", err)
	if err != nil {
		return fmt.Errorf("save session %s: %w", key, err)
	}

	base.Version = version
	s.cachePut(ctx, key, rec)
	return nil
}

// Get returns the record stored under the derived key, or ErrSessionNotFound.
func (s *SessionStore[R, PR]) Get(ctx context.Context, userID, testID string, mode model.TestMode, parts []string) (PR, error) {
	key := model.NewSessionKey(userID, testID, mode, parts)

	if rec, ok := s.cacheGet(ctx, key); ok {
		return rec, nil
	}

	var (
		payload string
		version int64
	)
	err := s.store.Run(ctx, func(ctx context.Context, h *database.Handle) error {
		stmt := h.SQL().
			Select("payload", "version").
			From(s.collection).
			Where(keyEq(key))
		return h.Scan(ctx, stmt, &payload, &version)
	})
	if errors.Is(err, sql.ErrNoRows) {
		metrics.StoreOps.WithLabelValues(s.collection, "get", "miss").Inc()
		return nil, ErrSessionNotFound
	}
	metrics.ObserveStore(s.collection, "get", err)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", key, err)
	}

	rec, err := decode[R, PR](payload, version)
	if err != nil {
		return nil, err
	}

	// Self-heal the cache so the next lookup skips the database.
	s.cachePut(ctx, key, rec)
	return rec, nil
}

// Delete removes the record under the derived key. Missing records are not an error.
func (s *SessionStore[R, PR]) Delete(ctx context.Context, userID, testID string, mode model.TestMode, parts []string) error {
	key := model.NewSessionKey(userID, testID, mode, parts)

	err := s.store.Run(ctx, func(ctx context.Context, h *database.Handle) error {
		_, err := h.Exec(ctx, h.SQL().Delete(s.collection).Where(keyEq(key)))
		return err
	})
	metrics.ObserveStore(s.collection, "delete", err)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}

	s.cacheDelete(ctx, key)
	return nil
}

// ListForUser returns every record owned by userID, most recently saved first.
func (s *SessionStore[R, PR]) ListForUser(ctx context.Context, userID string) ([]PR, error) {
	if userID == "" {
		userID = model.GuestUserID
	}

	var out []PR
	err := s.store.Run(ctx, func(ctx context.Context, h *database.Handle) error {
		rows, err := h.Query(ctx, h.SQL().
			Select("payload", "version").
			From(s.collection).
			Where(sq.Eq{"user_id": userID}).
			OrderBy("saved_at DESC"))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				payload string
				version int64
			)
			if err := rows.Scan(&payload, &version); err != nil {
				return err
			}
			rec, err := decode[R, PR](payload, version)
			if err != nil {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("Skipping undecodable session record")
				continue
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	metrics.ObserveStore(s.collection, "list", err)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}
	return out, nil
}

// ClearAll empties the collection. Developer tooling only.
func (s *SessionStore[R, PR]) ClearAll(ctx context.Context) error {
	err := s.store.Run(ctx, func(ctx context.Context, h *database.Handle) error {
		_, err := h.Exec(ctx, h.SQL().Delete(s.collection))
		return err
	})
	metrics.ObserveStore(s.collection, "clear", err)
	if err != nil {
		return fmt.Errorf("clear %s: %w", s.collection, err)
	}

	s.log.Warn().Msg("Collection cleared")
	s.cacheClear(ctx)
	return nil
}

// PurgeStale deletes records last saved before cutoff and reports how many went.
func (s *SessionStore[R, PR]) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.store.Run(ctx, func(ctx context.Context, h *database.Handle) error {
		res, err := h.Exec(ctx, h.SQL().
			Delete(s.collection).
			Where(sq.Lt{"saved_at": cutoff.UnixMilli()}))
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	})
	metrics.ObserveStore(s.collection, "purge", err)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", s.collection, err)
	}

	if purged > 0 {
		s.cacheClear(ctx)
	}
	return purged, nil
}

func keyEq(key model.SessionKey) sq.Eq {
	return sq.Eq{
		"user_id":   key.UserID,
		"test_id":   key.TestID,
		"test_mode": string(key.TestMode),
		"parts_key": key.PartsKey,
	}
}

func decode[R any, PR model.RecordPtr[R]](payload string, version int64) (PR, error) {
	rec := PR(new(R))
	if err := model.DecodeRecord([]byte(payload), rec); err != nil {
		return nil, err
	}
	rec.Base().Version = version
	return rec, nil
}
