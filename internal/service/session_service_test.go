package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessions(t *testing.T) (*Sessions, *fakeStore[model.SessionRecord, *model.SessionRecord], *fakeStore[model.WritingSessionRecord, *model.WritingSessionRecord]) {
	t.Helper()
	clk := newClock(start0)
	tests := newFakeStore[model.SessionRecord](clk.Now)
	writing := newFakeStore[model.WritingSessionRecord](clk.Now)
	return &Sessions{
		Tests:   NewSessionService[model.SessionRecord, *model.SessionRecord](tests, 0, quietOpts(), zerolog.Nop()).WithClock(clk.Now),
		Writing: NewSessionService[model.WritingSessionRecord, *model.WritingSessionRecord](writing, 24*time.Hour, quietOpts(), zerolog.Nop()).WithClock(clk.Now),
	}, tests, writing
}

func TestSessionsDispatchByExamType(t *testing.T) {
	ctx := context.Background()
	sessions, tests, writing := newSessions(t)

	tests.seed("u1", &model.SessionRecord{TestID: "lr-1", TestMode: model.TestModeFull}, start0)
	writing.seed("u1", &model.WritingSessionRecord{SessionRecord: model.SessionRecord{TestID: "w-1", TestMode: model.TestModeFull}}, start0)

	rec, err := sessions.CheckExisting(ctx, model.ExamTypeListeningReading, "u1", "lr-1", model.TestModeFull, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "lr-1", rec.Base().TestID)

	rec, err = sessions.CheckExisting(ctx, model.ExamTypeWriting, "u1", "lr-1", model.TestModeFull, nil)
	require.NoError(t, err)
	assert.Nil(t, rec, "a missing record must be a nil interface")

	list, err := sessions.ListForUser(ctx, model.ExamTypeWriting, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, isWriting := list[0].(*model.WritingSessionRecord)
	assert.True(t, isWriting)

	require.NoError(t, sessions.Delete(ctx, model.ExamTypeListeningReading, "u1", "lr-1", model.TestModeFull, nil))
	_, ok := tests.stored("u1", "lr-1", model.TestModeFull, nil)
	assert.False(t, ok)

	require.NoError(t, sessions.ClearAll(ctx, model.ExamTypeWriting))
	_, ok = writing.stored("u1", "w-1", model.TestModeFull, nil)
	assert.False(t, ok)
}

func TestSessionsRejectUnknownExamType(t *testing.T) {
	sessions, _, _ := newSessions(t)

	_, err := sessions.NewTab("speaking", "u1", false)
	assert.ErrorIs(t, err, ErrUnknownExamType)
	_, err = sessions.ListForUser(context.Background(), "speaking", "u1")
	assert.ErrorIs(t, err, ErrUnknownExamType)
}

func TestListForUserHidesStaleRecords(t *testing.T) {
	ctx := context.Background()
	sessions, _, writing := newSessions(t)

	writing.seed("u1", &model.WritingSessionRecord{SessionRecord: model.SessionRecord{TestID: "old", TestMode: model.TestModeFull}}, start0.Add(-48*time.Hour))
	writing.seed("u1", &model.WritingSessionRecord{SessionRecord: model.SessionRecord{TestID: "new", TestMode: model.TestModeFull}}, start0.Add(-time.Hour))

	list, err := sessions.ListForUser(ctx, model.ExamTypeWriting, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Base().TestID)
}
