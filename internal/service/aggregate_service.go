package service

import (
	"context"
	"errors"

	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"
	"edurank_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AggregateService 看板聚合查询：把学员的全局汇总、单元/学科KPI
// 与位次历史拼成一份只读快照
type AggregateService struct {
	AggregateRepo *repository.AggregateRepository
	RosterRepo    *repository.RosterRepository
	History       *PositionHistoryService
}

func NewAggregateService(
	aggregateRepo *repository.AggregateRepository,
	rosterRepo *repository.RosterRepository,
	history *PositionHistoryService,
) *AggregateService {
	return &AggregateService{
		AggregateRepo: aggregateRepo,
		RosterRepo:    rosterRepo,
		History:       history,
	}
}

// GetLearnerAggregate 读取学员的完整聚合视图
// 从未产生过事件的学员返回全零快照而不是404，看板端不需要区分这两种情况
func (s *AggregateService) GetLearnerAggregate(ctx context.Context, learnerID string) (*model.AggregateView, error) {
	learner, err := s.RosterRepo.FindLearner(learnerID)
	if err != nil {
		return nil, err
	}

	view := &model.AggregateView{
		LearnerID:               learner.ID,
		InstitutionID:           learner.InstitutionID,
		AveragePercentileGlobal: 50,
		Units:                   map[string]model.UnitKPI{},
		Subjects:                map[string]model.SubjectKPI{},
		PositionHistory:         map[string][]model.PositionEntry{},
	}

	agg, err := s.AggregateRepo.FindByLearner(learnerID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		view.ScoreGlobal = agg.ScoreGlobal
		view.AveragePercentileGlobal = agg.AveragePercentileGlobal
		view.TotalStudyMinutes = agg.TotalStudyMinutes
		view.IntelligentSessions = agg.IntelligentSessionsGlobal
		view.TotalUnits = agg.TotalUnits
		view.TotalSubjects = agg.TotalSubjects
		view.LastUpdated = agg.LastUpdated
		view.WeeklyHistogram = agg.Histogram
	}

	unitKPIs, err := s.AggregateRepo.UnitKPIs(learnerID)
	if err != nil {
		return nil, err
	}
	for _, kpi := range unitKPIs {
		view.Units[kpi.UnitID] = kpi
	}

	subjectKPIs, err := s.AggregateRepo.SubjectKPIs(learnerID)
	if err != nil {
		return nil, err
	}
	for _, kpi := range subjectKPIs {
		view.Subjects[kpi.SubjectID] = kpi

		entries, err := s.History.History(ctx, learnerID, kpi.SubjectID)
		if err != nil {
			// 位次历史缺失不阻塞看板主体数据
			logger.Log.Warn("position history read failed",
				zap.String("learnerId", learnerID),
				zap.String("subjectId", kpi.SubjectID),
				zap.Error(err))
			continue
		}
		view.PositionHistory[kpi.SubjectID] = entries
	}

	return view, nil
}
