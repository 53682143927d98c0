package service

import (
	"context"
	"testing"
	"time"

	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistoryService(t *testing.T) *PositionHistoryService {
	t.Helper()
	return NewPositionHistoryService(repository.NewPositionHistoryRepository(newTestDB(t)))
}

// 2026-08-24 是周一
var mondayWeek0 = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func TestRecordPosition_FirstEntryHasZeroDelta(t *testing.T) {
	s := newHistoryService(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", 5, 120, 20, mondayWeek0))

	entries, err := s.History(ctx, "learner-a", "subj-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Position)
	assert.Equal(t, 0, entries[0].DeltaFromPreviousWeek)
	assert.Equal(t, "2026-35", entries[0].WeekKey)
	assert.Equal(t, 20, entries[0].TotalPeersAtTime)
}

func TestRecordPosition_SameWeekOverwritesInPlace(t *testing.T) {
	s := newHistoryService(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", 5, 120, 20, mondayWeek0))
	// 同一周内周四再次记录
	thursday := mondayWeek0.AddDate(0, 0, 3)
	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", 3, 150, 21, thursday))

	entries, err := s.History(ctx, "learner-a", "subj-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Position)
	assert.Equal(t, 150.0, entries[0].ScoreAtTime)
	assert.Equal(t, 21, entries[0].TotalPeersAtTime)
}

func TestRecordPosition_DeltaPositiveMeansImprovement(t *testing.T) {
	s := newHistoryService(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", 8, 100, 20, mondayWeek0))
	// 下一周从第8名升到第3名 → delta = 8 - 3 = +5
	week1 := mondayWeek0.AddDate(0, 0, 7)
	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", 3, 140, 20, week1))
	// 再下一周跌到第6名 → delta = 3 - 6 = -3
	week2 := mondayWeek0.AddDate(0, 0, 14)
	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", 6, 145, 20, week2))

	entries, err := s.History(ctx, "learner-a", "subj-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 5, entries[1].DeltaFromPreviousWeek)
	assert.Equal(t, -3, entries[2].DeltaFromPreviousWeek)
}

func TestRecordPosition_WindowCappedAtTwelveWeeks(t *testing.T) {
	s := newHistoryService(t)
	ctx := context.Background()

	for week := 0; week < model.MaxPositionHistory+3; week++ {
		weekOf := mondayWeek0.AddDate(0, 0, 7*week)
		require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", week+1, 100, 30, weekOf))
	}

	entries, err := s.History(ctx, "learner-a", "subj-1")
	require.NoError(t, err)
	require.Len(t, entries, model.MaxPositionHistory)

	// 最旧的3周被淘汰，留下第4周开始的条目
	assert.Equal(t, 4, entries[0].Position)
	assert.Equal(t, model.MaxPositionHistory+3, entries[len(entries)-1].Position)
}

func TestRecordPosition_SubjectsIsolated(t *testing.T) {
	s := newHistoryService(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-1", 2, 100, 10, mondayWeek0))
	require.NoError(t, s.RecordPosition(ctx, "learner-a", "subj-2", 7, 90, 12, mondayWeek0))

	entries1, err := s.History(ctx, "learner-a", "subj-1")
	require.NoError(t, err)
	entries2, err := s.History(ctx, "learner-a", "subj-2")
	require.NoError(t, err)

	require.Len(t, entries1, 1)
	require.Len(t, entries2, 1)
	assert.Equal(t, 2, entries1[0].Position)
	assert.Equal(t, 7, entries2[0].Position)
}
