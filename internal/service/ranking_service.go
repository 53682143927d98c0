package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"edurank_backend/internal/config"
	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/util"
	"edurank_backend/pkg/logger"
	"edurank_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	ScopeUnit    = "unit"
	ScopeSubject = "subject"
)

// RankingService 排名计算引擎
// 对某个单元/学科扫描机构内全部有分学员，按分数降序、学员ID升序（确定性平局处理）
// 排序，只回写触发学员自己的名次/百分位，避免每个事件都产生 O(N²) 扇出
type RankingService struct {
	AggregateRepo *repository.AggregateRepository
	RosterRepo    *repository.RosterRepository
	History       *PositionHistoryService
	Bulk          *BulkWriteService
	Redis         *redis.Client
	Cfg           config.RankingConfig

	mu          sync.Mutex
	issuedSeq   map[string]uint64 // 作用域 -> 已签发的最大序号
	appliedSeq  map[string]uint64 // 作用域 -> 已应用的最大序号
}

func NewRankingService(
	aggregateRepo *repository.AggregateRepository,
	rosterRepo *repository.RosterRepository,
	history *PositionHistoryService,
	bulk *BulkWriteService,
	rdb *redis.Client,
	cfg config.RankingConfig,
) *RankingService {
	return &RankingService{
		AggregateRepo: aggregateRepo,
		RosterRepo:    rosterRepo,
		History:       history,
		Bulk:          bulk,
		Redis:         rdb,
		Cfg:           cfg,
		issuedSeq:     make(map[string]uint64),
		appliedSeq:    make(map[string]uint64),
	}
}

// NextSeq 为一次排名计算签发该作用域的单调递增序号
func (s *RankingService) NextSeq(scopeKey string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuedSeq[scopeKey]++
	return s.issuedSeq[scopeKey]
}

// tryApply 乱序到达的结果直接丢弃（被更新的事件超越）
func (s *RankingService) tryApply(scopeKey string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.appliedSeq[scopeKey] {
		return false
	}
	s.appliedSeq[scopeKey] = seq
	return true
}

// Percentile 百分位公式：((总数 − 名次 + 1) / 总数) × 100，空作用域回退50
func Percentile(position, totalPeers int) float64 {
	if totalPeers <= 0 {
		return 50
	}
	return float64(totalPeers-position+1) / float64(totalPeers) * 100
}

// sortPeers 分数降序；同分按学员ID升序，保证全序且可复现
// 平局绝不依赖存储层的偶然迭代顺序
func sortPeers(peers []repository.PeerScore) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Score != peers[j].Score {
			return peers[i].Score > peers[j].Score
		}
		return peers[i].LearnerID < peers[j].LearnerID
	})
}

// ComputeUnitRanking 重算某单元的排名并回写触发学员的名次
func (s *RankingService) ComputeUnitRanking(ctx context.Context, learnerID, unitID string, seq uint64) error {
	ctx, cancel := context.WithTimeout(ctx, s.Cfg.ComputeTimeout())
	defer cancel()

	learner, err := s.RosterRepo.FindLearner(learnerID)
	if err != nil {
		monitoring.RankingComputationsTotal.WithLabelValues(ScopeUnit, "error").Inc()
		return err
	}

	peers, err := s.AggregateRepo.ScoredUnitPeers(learner.InstitutionID, unitID)
	if err != nil {
		monitoring.RankingComputationsTotal.WithLabelValues(ScopeUnit, "error").Inc()
		return err
	}
	if len(peers) == 0 {
		// 作用域内没有任何有分学员：空操作
		return nil
	}
	sortPeers(peers)

	scopeKey := ScopeUnit + ":" + unitID
	if !s.tryApply(scopeKey, seq) {
		monitoring.RankingComputationsTotal.WithLabelValues(ScopeUnit, "stale").Inc()
		logger.Log.Debug("stale unit ranking discarded",
			zap.String("unitId", unitID), zap.Uint64("seq", seq))
		return util.ErrStaleComputation
	}

	total := len(peers)
	for i, p := range peers {
		if p.LearnerID != learnerID {
			continue
		}
		position := i + 1
		percentile := Percentile(position, total)
		if err := s.AggregateRepo.UpdateUnitRanking(learnerID, unitID, position, total, percentile); err != nil {
			monitoring.RankingComputationsTotal.WithLabelValues(ScopeUnit, "error").Inc()
			return err
		}
		break
	}

	if err := s.refreshGlobalPercentile(learnerID); err != nil {
		return err
	}

	s.invalidateCache(ctx, scopeKey)
	monitoring.RankingComputationsTotal.WithLabelValues(ScopeUnit, "applied").Inc()
	return nil
}

// ComputeSubjectRanking 重算某学科的排名，回写触发学员的名次并记录周历史
func (s *RankingService) ComputeSubjectRanking(ctx context.Context, learnerID, subjectID string, seq uint64) error {
	ctx, cancel := context.WithTimeout(ctx, s.Cfg.ComputeTimeout())
	defer cancel()

	learner, err := s.RosterRepo.FindLearner(learnerID)
	if err != nil {
		monitoring.RankingComputationsTotal.WithLabelValues(ScopeSubject, "error").Inc()
		return err
	}

	peers, err := s.AggregateRepo.ScoredSubjectPeers(learner.InstitutionID, subjectID)
	if err != nil {
		monitoring.RankingComputationsTotal.WithLabelValues(ScopeSubject, "error").Inc()
		return err
	}
	if len(peers) == 0 {
		return nil
	}
	sortPeers(peers)

	scopeKey := ScopeSubject + ":" + subjectID
	if !s.tryApply(scopeKey, seq) {
		monitoring.RankingComputationsTotal.WithLabelValues(ScopeSubject, "stale").Inc()
		return util.ErrStaleComputation
	}

	total := len(peers)
	for i, p := range peers {
		if p.LearnerID != learnerID {
			continue
		}
		position := i + 1
		percentile := Percentile(position, total)
		if err := s.AggregateRepo.UpdateSubjectRanking(learnerID, subjectID, position, total, percentile); err != nil {
			monitoring.RankingComputationsTotal.WithLabelValues(ScopeSubject, "error").Inc()
			return err
		}
		// 排名结果喂给周历史账本
		if err := s.History.RecordPosition(ctx, learnerID, subjectID, position, p.Score, total, time.Now()); err != nil {
			logger.Log.Warn("record position history failed",
				zap.String("learnerId", learnerID),
				zap.String("subjectId", subjectID),
				zap.Error(err))
		}
		break
	}

	if err := s.refreshGlobalPercentile(learnerID); err != nil {
		return err
	}

	s.invalidateCache(ctx, scopeKey)
	monitoring.RankingComputationsTotal.WithLabelValues(ScopeSubject, "applied").Inc()
	return nil
}

// refreshGlobalPercentile 全局平均百分位 = 该学员当前各单元百分位的简单算术平均
func (s *RankingService) refreshGlobalPercentile(learnerID string) error {
	percentiles, err := s.AggregateRepo.UnitPercentiles(learnerID)
	if err != nil {
		return err
	}
	if len(percentiles) == 0 {
		return nil
	}
	var sum float64
	for _, p := range percentiles {
		sum += p
	}
	return s.AggregateRepo.UpdateGlobalPercentile(learnerID, sum/float64(len(percentiles)))
}

// GetRankingTable 排名表快照：优先读 Redis 写穿缓存，未命中时即时重算
func (s *RankingService) GetRankingTable(ctx context.Context, scopeKind, scopeID, institutionID string, limit int) (*model.RankingSnapshot, error) {
	cacheKey := rankingCacheKey(scopeKind, scopeID, institutionID)
	if s.Redis != nil {
		if raw, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var snapshot model.RankingSnapshot
			if err := json.Unmarshal(raw, &snapshot); err == nil {
				if limit > 0 && limit < len(snapshot.Rows) {
					snapshot.Rows = snapshot.Rows[:limit]
				}
				return &snapshot, nil
			}
		}
	}

	snapshot, err := s.buildSnapshot(ctx, scopeKind, scopeID, institutionID)
	if err != nil {
		return nil, err
	}

	if s.Redis != nil {
		if raw, err := json.Marshal(snapshot); err == nil {
			s.Redis.Set(ctx, cacheKey, raw, s.Cfg.Staleness())
		}
	}

	if limit > 0 && limit < len(snapshot.Rows) {
		trimmed := *snapshot
		trimmed.Rows = snapshot.Rows[:limit]
		return &trimmed, nil
	}
	return snapshot, nil
}

func (s *RankingService) buildSnapshot(ctx context.Context, scopeKind, scopeID, institutionID string) (*model.RankingSnapshot, error) {
	var peers []repository.PeerScore
	var err error
	switch scopeKind {
	case ScopeUnit:
		peers, err = s.AggregateRepo.ScoredUnitPeers(institutionID, scopeID)
	case ScopeSubject:
		peers, err = s.AggregateRepo.ScoredSubjectPeers(institutionID, scopeID)
	}
	if err != nil {
		return nil, err
	}
	sortPeers(peers)

	rows := make([]model.RankingRow, len(peers))
	for i, p := range peers {
		rows[i] = model.RankingRow{
			LearnerID:   p.LearnerID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Position:    i + 1,
		}
	}
	return &model.RankingSnapshot{
		ScopeKind:  scopeKind,
		ScopeID:    scopeID,
		Rows:       rows,
		TotalPeers: len(rows),
		ComputedAt: time.Now(),
	}, nil
}

// RecomputeScopeAll 整个名册的批量重排：一次扫描算出快照，经批量写入器
// 回写作用域内所有学员的名次。供定时任务使用，不走事件路径
func (s *RankingService) RecomputeScopeAll(ctx context.Context, scopeKind, scopeID, institutionID string) BulkWriteResult {
	snapshot, err := s.buildSnapshot(ctx, scopeKind, scopeID, institutionID)
	if err != nil {
		return BulkWriteResult{Errors: []string{err.Error()}}
	}

	total := snapshot.TotalPeers
	ops := make([]WriteOp, 0, len(snapshot.Rows))
	for _, row := range snapshot.Rows {
		fields := map[string]interface{}{
			"rank_position": row.Position,
			"total_peers":   total,
			"percentile":    Percentile(row.Position, total),
		}
		switch scopeKind {
		case ScopeUnit:
			ops = append(ops, WriteOp{
				Kind:   OpUpdate,
				Model:  &model.UnitKPI{},
				Where:  "learner_id = ? AND unit_id = ?",
				Args:   []interface{}{row.LearnerID, scopeID},
				Fields: fields,
			})
		case ScopeSubject:
			ops = append(ops, WriteOp{
				Kind:   OpUpdate,
				Model:  &model.SubjectKPI{},
				Where:  "learner_id = ? AND subject_id = ?",
				Args:   []interface{}{row.LearnerID, scopeID},
				Fields: fields,
			})
		}
	}

	result := s.Bulk.Execute(ctx, ops, nil)
	s.invalidateCache(ctx, scopeKind+":"+scopeID)
	return result
}

func (s *RankingService) invalidateCache(ctx context.Context, scopeKey string) {
	if s.Redis == nil {
		return
	}
	// 作用域下可能有多个机构的缓存键
	iter := s.Redis.Scan(ctx, 0, "ranking:"+scopeKey+":*", 100).Iterator()
	for iter.Next(ctx) {
		s.Redis.Del(ctx, iter.Val())
	}
}

func rankingCacheKey(scopeKind, scopeID, institutionID string) string {
	return "ranking:" + scopeKind + ":" + scopeID + ":" + institutionID
}
