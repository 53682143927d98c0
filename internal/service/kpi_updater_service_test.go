package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"edurank_backend/internal/config"
	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type updaterFixture struct {
	db      *gorm.DB
	updater *KPIUpdaterService
	aggRepo *repository.AggregateRepository
}

func newUpdaterFixture(t *testing.T) *updaterFixture {
	t.Helper()
	db := newTestDB(t)
	aggRepo := repository.NewAggregateRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	bulk := NewBulkWriteService(db, config.BulkConfig{})

	seedSubject(t, db, "subj-math", "数学")
	seedLearner(t, db, "learner-a", "inst-1", "甲")
	seedUnit(t, db, "unit-1", "learner-a", strptr("subj-math"))
	seedUnit(t, db, "unit-nosubj", "learner-a", nil)

	return &updaterFixture{
		db:      db,
		updater: NewKPIUpdaterService(aggRepo, rosterRepo, bulk, nil),
		aggRepo: aggRepo,
	}
}

// 2026-08-26 是周三
var wednesday = time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)

func quizEvent(unitID string, score float64, minutes int) *model.StudyEvent {
	return &model.StudyEvent{
		Type:            model.ActivityQuiz,
		UnitID:          unitID,
		DurationMinutes: minutes,
		Timestamp:       wednesday,
		Score:           score,
		Accuracy:        80,
	}
}

func TestApply_QuizEventIsAdditive(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	r1, err := f.updater.Apply(ctx, quizEvent("unit-1", 40, 15))
	require.NoError(t, err)
	assert.Equal(t, ApplyApplied, r1.Status)

	r2, err := f.updater.Apply(ctx, quizEvent("unit-1", 25, 10))
	require.NoError(t, err)
	assert.Equal(t, ApplyApplied, r2.Status)

	kpi, err := f.aggRepo.FindUnitKPI("learner-a", "unit-1")
	require.NoError(t, err)
	assert.Equal(t, 65.0, kpi.Score)
	assert.Equal(t, 25, kpi.LocalStudyMinutes)
	assert.Equal(t, 25, kpi.QuizMinutes)

	agg, err := f.aggRepo.FindByLearner("learner-a")
	require.NoError(t, err)
	assert.Equal(t, 65.0, agg.ScoreGlobal)
	assert.Equal(t, 25, agg.TotalStudyMinutes)
	assert.Equal(t, 1, agg.TotalUnits)
	assert.Equal(t, 1, agg.TotalSubjects)

	subjKPI, err := f.aggRepo.FindSubjectKPI("learner-a", "subj-math")
	require.NoError(t, err)
	assert.Equal(t, 65.0, subjKPI.Score)
	assert.Equal(t, "数学", subjKPI.DisplayName)
	assert.Equal(t, []string{"unit-1"}, subjKPI.ChildUnitIDs)
}

func TestApply_GuidedStudyUpdatesMasteryAndSuccessRates(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	_, err := f.updater.Apply(ctx, &model.StudyEvent{
		Type:              model.ActivityGuidedStudy,
		UnitID:            "unit-1",
		DurationMinutes:   30,
		Timestamp:         wednesday,
		Succeeded:         true,
		ConceptsSeen:      10,
		ConceptsMastered:  6,
		ConceptsReviewing: 2,
	})
	require.NoError(t, err)

	_, err = f.updater.Apply(ctx, &model.StudyEvent{
		Type:              model.ActivityGuidedStudy,
		UnitID:            "unit-1",
		DurationMinutes:   20,
		Timestamp:         wednesday,
		Succeeded:         false,
		ConceptsSeen:      5,
		ConceptsMastered:  2,
		ConceptsReviewing: 6,
	})
	require.NoError(t, err)

	kpi, err := f.aggRepo.FindUnitKPI("learner-a", "unit-1")
	require.NoError(t, err)
	assert.Equal(t, 2, kpi.IntelligentSessionsTotal)
	assert.Equal(t, 1, kpi.IntelligentSessionsSuccessful)
	assert.InDelta(t, 50.0, kpi.SuccessRate, 0.001)
	assert.Equal(t, 15, kpi.ConceptCount)
	assert.Equal(t, 8, kpi.MasteredCount)
	assert.Equal(t, 8, kpi.ReviewingCount)
	assert.InDelta(t, 50.0, kpi.MasteryRate, 0.001)
	assert.Equal(t, 50, kpi.GuidedMinutes)

	agg, err := f.aggRepo.FindByLearner("learner-a")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.IntelligentSessionsGlobal)
}

func TestApply_FreeStudyAddsReviewedConcepts(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	_, err := f.updater.Apply(ctx, &model.StudyEvent{
		Type:             model.ActivityFreeStudy,
		UnitID:           "unit-1",
		DurationMinutes:  25,
		Timestamp:        wednesday,
		ConceptsReviewed: 7,
	})
	require.NoError(t, err)

	kpi, err := f.aggRepo.FindUnitKPI("learner-a", "unit-1")
	require.NoError(t, err)
	assert.Equal(t, 7, kpi.ConceptCount)
	assert.Equal(t, 25, kpi.FreeMinutes)
	assert.Equal(t, 0.0, kpi.Score)
}

func TestApply_HistogramBucketFollowsEventTimestamp(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	// 周三的事件落在2号桶（周一为0号）
	_, err := f.updater.Apply(ctx, quizEvent("unit-1", 10, 40))
	require.NoError(t, err)

	// 周日的回填事件落在6号桶
	sunday := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	ev := quizEvent("unit-1", 5, 20)
	ev.Timestamp = sunday
	_, err = f.updater.Apply(ctx, ev)
	require.NoError(t, err)

	agg, err := f.aggRepo.FindByLearner("learner-a")
	require.NoError(t, err)
	assert.Equal(t, 40, agg.Histogram[2].Minutes)
	assert.Equal(t, 1, agg.Histogram[2].QuizSessions)
	assert.Equal(t, 20, agg.Histogram[6].Minutes)
	assert.Equal(t, 1, agg.Histogram[6].QuizSessions)
	assert.Equal(t, 0, agg.Histogram[0].Minutes)
}

func TestApply_UnitWithoutSubjectSkipsSubjectKPI(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	_, err := f.updater.Apply(ctx, quizEvent("unit-nosubj", 30, 10))
	require.NoError(t, err)

	agg, err := f.aggRepo.FindByLearner("learner-a")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalUnits)
	assert.Equal(t, 0, agg.TotalSubjects)

	subjects, err := f.aggRepo.SubjectKPIs("learner-a")
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

func TestApply_OrphanEventDroppedNotFailed(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	result, err := f.updater.Apply(ctx, quizEvent("no-such-unit", 30, 10))
	require.NoError(t, err)
	assert.Equal(t, ApplyDropped, result.Status)

	// 丢弃的事件不产生任何聚合
	var count int64
	f.db.Model(&model.LearnerAggregate{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestApply_InvalidEventsRejected(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	cases := []*model.StudyEvent{
		{Type: "skydiving", UnitID: "unit-1", Timestamp: wednesday},
		{Type: model.ActivityQuiz, UnitID: "", Timestamp: wednesday},
		{Type: model.ActivityQuiz, UnitID: "unit-1"},
		{Type: model.ActivityQuiz, UnitID: "unit-1", Timestamp: wednesday, Score: -5},
		{Type: model.ActivityQuiz, UnitID: "unit-1", Timestamp: wednesday, Accuracy: 120},
		{Type: model.ActivityFreeStudy, UnitID: "unit-1", Timestamp: wednesday, DurationMinutes: -1},
	}
	for _, ev := range cases {
		_, err := f.updater.Apply(ctx, ev)
		assert.Error(t, err)
	}
}

func TestApply_NegativeQuizScoreRejected(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	_, err := f.updater.Apply(ctx, quizEvent("unit-1", -5, 30))
	require.ErrorIs(t, err, util.ErrScoreRegression)

	// 被拒绝的事件不产生任何聚合
	var count int64
	f.db.Model(&model.LearnerAggregate{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestApply_ConcurrentEventsForSameLearnerSerialize(t *testing.T) {
	f := newUpdaterFixture(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.updater.Apply(ctx, quizEvent("unit-1", 10, 5))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	agg, err := f.aggRepo.FindByLearner("learner-a")
	require.NoError(t, err)
	assert.Equal(t, float64(10*n), agg.ScoreGlobal)
	assert.Equal(t, 5*n, agg.TotalStudyMinutes)
	assert.EqualValues(t, n, agg.Version)
}
