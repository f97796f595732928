package service

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStore is an in-memory SessionStore with call accounting and fault injection.
type fakeStore[R any, PR model.RecordPtr[R]] struct {
	mu   sync.Mutex
	now  func() time.Time
	recs map[model.SessionKey]PR

	saves   []PR
	deletes int
	onSave  func(rec PR)

	getErr    error
	saveErr   error
	deleteErr error
}

func newFakeStore[R any, PR model.RecordPtr[R]](now func() time.Time) *fakeStore[R, PR] {
	return &fakeStore[R, PR]{now: now, recs: map[model.SessionKey]PR{}}
}

func (f *fakeStore[R, PR]) Collection() string { return "fake_sessions" }

func (f *fakeStore[R, PR]) Get(_ context.Context, userID, testID string, mode model.TestMode, parts []string) (PR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.recs[model.NewSessionKey(userID, testID, mode, parts)]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return model.CloneRecord[R, PR](rec), nil
}

func (f *fakeStore[R, PR]) Save(_ context.Context, userID string, rec PR) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	rec.Base().Stamp(userID, f.now())
	key := rec.Base().Key()
	var version int64 = 1
	if cur, ok := f.recs[key]; ok {
		version = cur.Base().Version + 1
	}
	f.put(key, rec, version)
	return nil
}

func (f *fakeStore[R, PR]) SaveIfVersion(_ context.Context, userID string, rec PR, expected int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	rec.Base().Stamp(userID, f.now())
	key := rec.Base().Key()
	cur, ok := f.recs[key]
	switch {
	case expected == 0 && ok,
		expected != 0 && !ok,
		ok && cur.Base().Version != expected:
		return repository.ErrVersionConflict
	}
	f.put(key, rec, expected+1)
	return nil
}

func (f *fakeStore[R, PR]) put(key model.SessionKey, rec PR, version int64) {
	rec.Base().Version = version
	f.recs[key] = model.CloneRecord[R, PR](rec)
	f.saves = append(f.saves, model.CloneRecord[R, PR](rec))
	if f.onSave != nil {
		f.onSave(rec)
	}
}

func (f *fakeStore[R, PR]) Delete(_ context.Context, userID, testID string, mode model.TestMode, parts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.recs, model.NewSessionKey(userID, testID, mode, parts))
	return nil
}

func (f *fakeStore[R, PR]) ListForUser(_ context.Context, userID string) ([]PR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PR
	for key, rec := range f.recs {
		if key.UserID == userID {
			out = append(out, model.CloneRecord[R, PR](rec))
		}
	}
	return out, nil
}

func (f *fakeStore[R, PR]) ClearAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = map[model.SessionKey]PR{}
	return nil
}

// seed stores rec directly, bypassing accounting.
func (f *fakeStore[R, PR]) seed(userID string, rec PR, savedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.Base().Stamp(userID, savedAt)
	rec.Base().Version = 1
	f.recs[rec.Base().Key()] = model.CloneRecord[R, PR](rec)
}

func (f *fakeStore[R, PR]) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeStore[R, PR]) lastSave() PR {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return nil
	}
	return f.saves[len(f.saves)-1]
}

func (f *fakeStore[R, PR]) stored(userID, testID string, mode model.TestMode, parts []string) (PR, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[model.NewSessionKey(userID, testID, mode, parts)]
	return rec, ok
}

func (f *fakeStore[R, PR]) setErrors(get, save, del error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr, f.saveErr, f.deleteErr = get, save, del
}
