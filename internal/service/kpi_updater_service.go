package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/util"
	"edurank_backend/pkg/logger"
	"edurank_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ApplyStatus string

const (
	ApplyApplied ApplyStatus = "applied"
	ApplyDropped ApplyStatus = "dropped"
)

// ApplyResult 单个事件的处理结果
// 旁路（排名重算调度）失败只进 SideChannelIgnored，不影响事件本身的成败
type ApplyResult struct {
	Status             ApplyStatus `json:"status"`
	LearnerID          string      `json:"learnerId,omitempty"`
	RankingScheduled   bool        `json:"rankingScheduled"`
	SideChannelIgnored []string    `json:"sideChannelIgnored,omitempty"`
}

// 同一学员聚合的读改写在版本冲突时的重放上限
const maxVersionRetries = 3

// KPIUpdaterService 增量KPI更新器：一个学习事件原地更新归属学员的聚合
type KPIUpdaterService struct {
	AggregateRepo *repository.AggregateRepository
	RosterRepo    *repository.RosterRepository
	Bulk          *BulkWriteService
	Worker        *RankingWorker

	// 进程内按学员串行化写入；跨实例由聚合行的版本号条件写兜底
	locks sync.Map
}

func NewKPIUpdaterService(
	aggregateRepo *repository.AggregateRepository,
	rosterRepo *repository.RosterRepository,
	bulk *BulkWriteService,
	worker *RankingWorker,
) *KPIUpdaterService {
	return &KPIUpdaterService{
		AggregateRepo: aggregateRepo,
		RosterRepo:    rosterRepo,
		Bulk:          bulk,
		Worker:        worker,
	}
}

func (s *KPIUpdaterService) learnerLock(learnerID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(learnerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Apply 处理一个学习事件
// 解析失败的事件记录告警后丢弃（孤儿事件重试无意义）；持久化失败返回错误
func (s *KPIUpdaterService) Apply(ctx context.Context, event *model.StudyEvent) (*ApplyResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	// 分数只增不减：负分事件会让聚合分数回退，在变更边界直接拒绝
	if event.Type == model.ActivityQuiz && event.Score < 0 {
		return nil, util.ErrScoreRegression
	}

	// 从单元引用解析归属学员
	unit, err := s.RosterRepo.FindUnit(event.UnitID)
	if err != nil {
		if errors.Is(err, util.ErrUnitNotFound) {
			logger.Log.Warn("study event references unknown unit, dropped",
				zap.String("unitId", event.UnitID),
				zap.String("type", string(event.Type)))
			monitoring.EventsDroppedTotal.Inc()
			return &ApplyResult{Status: ApplyDropped}, nil
		}
		return nil, err
	}

	learner, err := s.RosterRepo.FindLearner(unit.OwnerID)
	if err != nil {
		if errors.Is(err, util.ErrLearnerNotFound) {
			logger.Log.Warn("study event owner not in roster, dropped",
				zap.String("unitId", event.UnitID),
				zap.String("ownerId", unit.OwnerID))
			monitoring.EventsDroppedTotal.Inc()
			return &ApplyResult{Status: ApplyDropped}, nil
		}
		return nil, err
	}

	subjectID := event.SubjectID
	if subjectID == nil {
		subjectID = unit.SubjectID
	}

	lock := s.learnerLock(learner.ID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxVersionRetries; attempt++ {
		lastErr = s.applyOnce(ctx, learner, event, subjectID)
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, util.ErrVersionConflict) {
			return nil, lastErr
		}
		// 并发写冲突：重新读取最新状态后重放
		logger.Log.Debug("aggregate version conflict, replaying",
			zap.String("learnerId", learner.ID),
			zap.Int("attempt", attempt+1))
	}
	if lastErr != nil {
		return nil, lastErr
	}

	monitoring.EventsAppliedTotal.WithLabelValues(string(event.Type)).Inc()

	result := &ApplyResult{Status: ApplyApplied, LearnerID: learner.ID}

	// 排名重算走后台调度器，不耦合事件摄入延迟；
	// 调度失败按"尽力而为旁路"处理，不影响事件本身的成功
	if s.Worker != nil {
		if s.Worker.Enqueue(ScopeUnit, event.UnitID, learner.ID) {
			result.RankingScheduled = true
		} else {
			result.SideChannelIgnored = append(result.SideChannelIgnored,
				fmt.Sprintf("unit ranking recompute not scheduled for %s", event.UnitID))
		}
		if subjectID != nil {
			if !s.Worker.Enqueue(ScopeSubject, *subjectID, learner.ID) {
				result.SideChannelIgnored = append(result.SideChannelIgnored,
					fmt.Sprintf("subject ranking recompute not scheduled for %s", *subjectID))
			}
		}
	}

	return result, nil
}

// applyOnce 读改写一轮：读取当前状态，施加事件增量，原子落盘
// 子表行与全局行在同一个块（同一个事务）里提交，版本冲突时整体回滚
func (s *KPIUpdaterService) applyOnce(ctx context.Context, learner *model.Learner, event *model.StudyEvent, subjectID *string) error {
	agg, err := s.loadOrInitAggregate(learner)
	if err != nil {
		return err
	}

	unitKPI, unitCreated, err := s.loadOrInitUnitKPI(learner.ID, event.UnitID, subjectID)
	if err != nil {
		return err
	}

	var subjectKPI *model.SubjectKPI
	subjectCreated := false
	if subjectID != nil {
		subjectKPI, subjectCreated, err = s.loadOrInitSubjectKPI(learner.ID, *subjectID)
		if err != nil {
			return err
		}
	}

	// 单元KPI增量
	unitKPI.LocalStudyMinutes += event.DurationMinutes
	switch event.Type {
	case model.ActivityGuidedStudy:
		unitKPI.GuidedMinutes += event.DurationMinutes
		unitKPI.IntelligentSessionsTotal++
		if event.Succeeded {
			unitKPI.IntelligentSessionsSuccessful++
		}
		unitKPI.ConceptCount += event.ConceptsSeen
		unitKPI.MasteredCount += event.ConceptsMastered
		unitKPI.ReviewingCount += event.ConceptsReviewing
	case model.ActivityFreeStudy:
		unitKPI.FreeMinutes += event.DurationMinutes
		unitKPI.ConceptCount += event.ConceptsReviewed
	case model.ActivityQuiz:
		unitKPI.QuizMinutes += event.DurationMinutes
		unitKPI.Score += event.Score
	}
	unitKPI.RecalcRates()

	// 学科KPI镜像
	if subjectKPI != nil {
		subjectKPI.StudyMinutes += event.DurationMinutes
		subjectKPI.AddChildUnit(event.UnitID)
		switch event.Type {
		case model.ActivityGuidedStudy:
			subjectKPI.IntelligentSessions++
		case model.ActivityQuiz:
			subjectKPI.Score += event.Score
		}
	}

	// 全局汇总：分钟数镜像到总量和星期直方图
	// 桶按事件时间戳（而非当前时间）的星期几选择，回填事件才能落进正确的桶
	agg.TotalStudyMinutes += event.DurationMinutes
	agg.Histogram.Add(event.Timestamp, event.DurationMinutes, event.Type)
	if event.Type == model.ActivityGuidedStudy {
		agg.IntelligentSessionsGlobal++
	}
	if event.Type == model.ActivityQuiz {
		agg.ScoreGlobal += event.Score
	}
	if unitCreated {
		agg.TotalUnits++
	}
	if subjectCreated {
		agg.TotalSubjects++
	}
	agg.LastUpdated = time.Now()

	return s.persist(ctx, agg, unitKPI, subjectKPI)
}

func (s *KPIUpdaterService) loadOrInitAggregate(learner *model.Learner) (*model.LearnerAggregate, error) {
	agg, err := s.AggregateRepo.FindByLearner(learner.ID)
	if err == nil {
		return agg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	// 第一次引用该学员时惰性创建：数值全零，百分位默认50（人群中位数），
	// 避免新学员一上来就被压到底部
	agg = &model.LearnerAggregate{
		LearnerID:               learner.ID,
		InstitutionID:           learner.InstitutionID,
		AveragePercentileGlobal: 50,
		LastUpdated:             time.Now(),
	}
	if err := s.AggregateRepo.Create(agg); err != nil {
		// 并发创建撞唯一索引：按版本冲突处理，上层会重放
		return nil, util.ErrVersionConflict
	}
	return agg, nil
}

func (s *KPIUpdaterService) loadOrInitUnitKPI(learnerID, unitID string, subjectID *string) (*model.UnitKPI, bool, error) {
	kpi, err := s.AggregateRepo.FindUnitKPI(learnerID, unitID)
	if err == nil {
		return kpi, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return &model.UnitKPI{
		LearnerID:  learnerID,
		UnitID:     unitID,
		SubjectID:  subjectID,
		Percentile: 50,
	}, true, nil
}

func (s *KPIUpdaterService) loadOrInitSubjectKPI(learnerID, subjectID string) (*model.SubjectKPI, bool, error) {
	kpi, err := s.AggregateRepo.FindSubjectKPI(learnerID, subjectID)
	if err == nil {
		return kpi, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	// 首次出现时从目录取可读名称
	return &model.SubjectKPI{
		LearnerID:   learnerID,
		SubjectID:   subjectID,
		DisplayName: s.RosterRepo.SubjectName(subjectID),
		Percentile:  50,
	}, true, nil
}

// persist 全部变更经批量写入器作为单块提交：
// 子表 Save + 全局行的版本条件写，三者同一事务
func (s *KPIUpdaterService) persist(ctx context.Context, agg *model.LearnerAggregate, unitKPI *model.UnitKPI, subjectKPI *model.SubjectKPI) error {
	histogramJSON, err := json.Marshal(agg.Histogram)
	if err != nil {
		return err
	}

	ops := []WriteOp{
		{Kind: OpPut, Entity: unitKPI},
	}
	if subjectKPI != nil {
		ops = append(ops, WriteOp{Kind: OpPut, Entity: subjectKPI})
	}
	ops = append(ops, WriteOp{
		Kind:  OpUpdate,
		Guard: true,
		Model: &model.LearnerAggregate{},
		Where: "learner_id = ? AND version = ?",
		Args:  []interface{}{agg.LearnerID, agg.Version},
		Fields: map[string]interface{}{
			"score_global":                agg.ScoreGlobal,
			"total_study_minutes":         agg.TotalStudyMinutes,
			"intelligent_sessions_global": agg.IntelligentSessionsGlobal,
			"total_units":                 agg.TotalUnits,
			"total_subjects":              agg.TotalSubjects,
			"last_updated":                agg.LastUpdated,
			"histogram":                   string(histogramJSON),
			"version":                     agg.Version + 1,
		},
	})

	result := s.Bulk.Execute(ctx, ops, nil)
	if result.OverallSuccess {
		return nil
	}
	// 版本冲突要向上层暴露以触发重放，其余按持久化失败上报
	for _, msg := range result.Errors {
		if strings.Contains(msg, util.ErrVersionConflict.Error()) {
			return util.ErrVersionConflict
		}
	}
	return fmt.Errorf("aggregate persistence failed: %v", result.Errors)
}
