package service

import (
	"context"
	"testing"

	"edurank_backend/internal/config"
	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type rankingFixture struct {
	db      *gorm.DB
	ranking *RankingService
	aggRepo *repository.AggregateRepository
}

func newRankingFixture(t *testing.T, rdb *redis.Client) *rankingFixture {
	t.Helper()
	db := newTestDB(t)
	aggRepo := repository.NewAggregateRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	history := NewPositionHistoryService(repository.NewPositionHistoryRepository(db))
	bulk := NewBulkWriteService(db, config.BulkConfig{})

	return &rankingFixture{
		db:      db,
		ranking: NewRankingService(aggRepo, rosterRepo, history, bulk, rdb, config.RankingConfig{}),
		aggRepo: aggRepo,
	}
}

// seedUnitScope 五个学员同一机构同一单元，分数故意乱序且有同分
// 分数 [80 60 90 60 40]，ID [B D A C E] → 期望名次 A(90) B(80) C(60) D(60) E(40)
func seedUnitScope(t *testing.T, f *rankingFixture) {
	t.Helper()
	scores := map[string]float64{
		"learner-B": 80,
		"learner-D": 60,
		"learner-A": 90,
		"learner-C": 60,
		"learner-E": 40,
	}
	for id, score := range scores {
		seedLearner(t, f.db, id, "inst-1", "学员"+id)
		require.NoError(t, f.db.Create(&model.LearnerAggregate{
			LearnerID:     id,
			InstitutionID: "inst-1",
		}).Error)
		require.NoError(t, f.db.Create(&model.UnitKPI{
			LearnerID: id,
			UnitID:    "unit-1",
			Score:     score,
		}).Error)
	}
	seedUnit(t, f.db, "unit-1", "learner-A", nil)
}

func TestComputeUnitRanking_DeterministicTieBreak(t *testing.T) {
	f := newRankingFixture(t, nil)
	seedUnitScope(t, f)
	ctx := context.Background()

	// 为每个学员各算一次，拿到全部名次
	for _, id := range []string{"learner-A", "learner-B", "learner-C", "learner-D", "learner-E"} {
		seq := f.ranking.NextSeq(ScopeUnit + ":unit-1")
		require.NoError(t, f.ranking.ComputeUnitRanking(ctx, id, "unit-1", seq))
	}

	expected := map[string]int{
		"learner-A": 1,
		"learner-B": 2,
		"learner-C": 3, // 与D同分60，ID升序在前
		"learner-D": 4,
		"learner-E": 5,
	}
	for id, position := range expected {
		kpi, err := f.aggRepo.FindUnitKPI(id, "unit-1")
		require.NoError(t, err)
		assert.Equal(t, position, kpi.RankPosition, "learner %s", id)
		assert.Equal(t, 5, kpi.TotalPeers)
	}
}

func TestComputeUnitRanking_PercentileFormula(t *testing.T) {
	f := newRankingFixture(t, nil)
	seedUnitScope(t, f)
	ctx := context.Background()

	seq := f.ranking.NextSeq(ScopeUnit + ":unit-1")
	require.NoError(t, f.ranking.ComputeUnitRanking(ctx, "learner-A", "unit-1", seq))
	seq = f.ranking.NextSeq(ScopeUnit + ":unit-1")
	require.NoError(t, f.ranking.ComputeUnitRanking(ctx, "learner-E", "unit-1", seq))

	// ((5-1+1)/5)*100 = 100：第一名
	top, err := f.aggRepo.FindUnitKPI("learner-A", "unit-1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, top.Percentile, 0.001)

	// ((5-5+1)/5)*100 = 20：最后一名
	bottom, err := f.aggRepo.FindUnitKPI("learner-E", "unit-1")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, bottom.Percentile, 0.001)
}

func TestPercentile_SoleLearnerGetsHundred(t *testing.T) {
	assert.InDelta(t, 100.0, Percentile(1, 1), 0.001)
}

func TestPercentile_EmptyScopeFallsBackToFifty(t *testing.T) {
	assert.InDelta(t, 50.0, Percentile(0, 0), 0.001)
}

func TestComputeUnitRanking_StaleSequenceDiscarded(t *testing.T) {
	f := newRankingFixture(t, nil)
	seedUnitScope(t, f)
	ctx := context.Background()

	seqOld := f.ranking.NextSeq(ScopeUnit + ":unit-1")
	seqNew := f.ranking.NextSeq(ScopeUnit + ":unit-1")

	// 新结果先落盘
	require.NoError(t, f.ranking.ComputeUnitRanking(ctx, "learner-A", "unit-1", seqNew))
	kpi, err := f.aggRepo.FindUnitKPI("learner-A", "unit-1")
	require.NoError(t, err)
	require.Equal(t, 1, kpi.RankPosition)

	// 手工把名次改掉，然后应用过期结果：不应覆盖
	require.NoError(t, f.aggRepo.UpdateUnitRanking("learner-A", "unit-1", 99, 99, 1))
	require.ErrorIs(t, f.ranking.ComputeUnitRanking(ctx, "learner-A", "unit-1", seqOld), util.ErrStaleComputation)

	kpi, err = f.aggRepo.FindUnitKPI("learner-A", "unit-1")
	require.NoError(t, err)
	assert.Equal(t, 99, kpi.RankPosition, "stale computation must not overwrite")
}

func TestComputeUnitRanking_EmptyScopeIsNoop(t *testing.T) {
	f := newRankingFixture(t, nil)
	seedLearner(t, f.db, "learner-A", "inst-1", "甲")
	ctx := context.Background()

	seq := f.ranking.NextSeq(ScopeUnit + ":unit-ghost")
	require.NoError(t, f.ranking.ComputeUnitRanking(ctx, "learner-A", "unit-ghost", seq))
}

func TestComputeUnitRanking_RefreshesGlobalPercentile(t *testing.T) {
	f := newRankingFixture(t, nil)
	seedUnitScope(t, f)
	ctx := context.Background()

	// learner-A 另有一个单元百分位40，unit-1算完后百分位100 → 平均70
	require.NoError(t, f.db.Create(&model.UnitKPI{
		LearnerID:  "learner-A",
		UnitID:     "unit-2",
		Score:      10,
		Percentile: 40,
	}).Error)

	seq := f.ranking.NextSeq(ScopeUnit + ":unit-1")
	require.NoError(t, f.ranking.ComputeUnitRanking(ctx, "learner-A", "unit-1", seq))

	agg, err := f.aggRepo.FindByLearner("learner-A")
	require.NoError(t, err)
	assert.InDelta(t, 70.0, agg.AveragePercentileGlobal, 0.001)
}

func TestComputeSubjectRanking_RecordsWeeklyHistory(t *testing.T) {
	f := newRankingFixture(t, nil)
	ctx := context.Background()

	for i, id := range []string{"learner-A", "learner-B"} {
		seedLearner(t, f.db, id, "inst-1", "学员"+id)
		require.NoError(t, f.db.Create(&model.LearnerAggregate{LearnerID: id, InstitutionID: "inst-1"}).Error)
		require.NoError(t, f.db.Create(&model.SubjectKPI{
			LearnerID: id,
			SubjectID: "subj-1",
			Score:     float64(100 - i*50),
		}).Error)
	}

	seq := f.ranking.NextSeq(ScopeSubject + ":subj-1")
	require.NoError(t, f.ranking.ComputeSubjectRanking(ctx, "learner-B", "subj-1", seq))

	entries, err := f.ranking.History.History(ctx, "learner-B", "subj-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Position)
	assert.Equal(t, 2, entries[0].TotalPeersAtTime)
	assert.Equal(t, 50.0, entries[0].ScoreAtTime)
}

func TestGetRankingTable_SnapshotAndLimit(t *testing.T) {
	f := newRankingFixture(t, nil)
	seedUnitScope(t, f)
	ctx := context.Background()

	snapshot, err := f.ranking.GetRankingTable(ctx, ScopeUnit, "unit-1", "inst-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, snapshot.TotalPeers)
	require.Len(t, snapshot.Rows, 5)
	assert.Equal(t, "learner-A", snapshot.Rows[0].LearnerID)
	assert.Equal(t, "learner-C", snapshot.Rows[2].LearnerID)
	assert.Equal(t, "learner-D", snapshot.Rows[3].LearnerID)

	// limit 只截断行，TotalPeers 仍是全员数
	top3, err := f.ranking.GetRankingTable(ctx, ScopeUnit, "unit-1", "inst-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, top3.TotalPeers)
	assert.Len(t, top3.Rows, 3)
}

func TestGetRankingTable_RedisCacheHit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newRankingFixture(t, rdb)
	seedUnitScope(t, f)
	ctx := context.Background()

	first, err := f.ranking.GetRankingTable(ctx, ScopeUnit, "unit-1", "inst-1", 0)
	require.NoError(t, err)
	require.Len(t, first.Rows, 5)
	assert.True(t, mr.Exists("ranking:unit:unit-1:inst-1"))

	// 底层数据改了，但缓存窗口内仍返回旧快照
	require.NoError(t, f.db.Create(&model.UnitKPI{
		LearnerID: "learner-F",
		UnitID:    "unit-1",
		Score:     999,
	}).Error)
	seedLearner(t, f.db, "learner-F", "inst-1", "学员F")

	cached, err := f.ranking.GetRankingTable(ctx, ScopeUnit, "unit-1", "inst-1", 0)
	require.NoError(t, err)
	assert.Len(t, cached.Rows, 5)
}

func TestComputeUnitRanking_InvalidatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newRankingFixture(t, rdb)
	seedUnitScope(t, f)
	ctx := context.Background()

	_, err := f.ranking.GetRankingTable(ctx, ScopeUnit, "unit-1", "inst-1", 0)
	require.NoError(t, err)
	require.True(t, mr.Exists("ranking:unit:unit-1:inst-1"))

	seq := f.ranking.NextSeq(ScopeUnit + ":unit-1")
	require.NoError(t, f.ranking.ComputeUnitRanking(ctx, "learner-A", "unit-1", seq))

	assert.False(t, mr.Exists("ranking:unit:unit-1:inst-1"))
}

func TestRecomputeScopeAll_WritesEveryPeer(t *testing.T) {
	f := newRankingFixture(t, nil)
	seedUnitScope(t, f)
	ctx := context.Background()

	result := f.ranking.RecomputeScopeAll(ctx, ScopeUnit, "unit-1", "inst-1")
	require.True(t, result.OverallSuccess)
	assert.Equal(t, 5, result.TotalOperations)

	for id, position := range map[string]int{
		"learner-A": 1, "learner-B": 2, "learner-C": 3, "learner-D": 4, "learner-E": 5,
	} {
		kpi, err := f.aggRepo.FindUnitKPI(id, "unit-1")
		require.NoError(t, err)
		assert.Equal(t, position, kpi.RankPosition)
		assert.InDelta(t, Percentile(position, 5), kpi.Percentile, 0.001)
	}
}
