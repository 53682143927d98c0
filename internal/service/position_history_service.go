package service

import (
	"context"
	"time"

	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/util"

	"gorm.io/gorm"
)

// PositionHistoryService 把排名引擎算出的名次折叠进按周滚动的历史账本
// 它只记录结果，从不自己读取实时排名，两个关注点保持解耦
type PositionHistoryService struct {
	HistoryRepo *repository.PositionHistoryRepository
}

func NewPositionHistoryService(historyRepo *repository.PositionHistoryRepository) *PositionHistoryService {
	return &PositionHistoryService{HistoryRepo: historyRepo}
}

func (s *PositionHistoryService) RecordPosition(ctx context.Context, learnerID, subjectID string, position int, scoreAtTime float64, totalPeers int, weekOf time.Time) error {
	weekKey := util.WeekKey(weekOf)
	windowStart, windowEnd := util.WeekWindow(weekOf)

	existing, err := s.HistoryRepo.FindByWeek(learnerID, subjectID, weekKey)
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}

	if existing != nil {
		// 同一周重复记录：原地覆盖，列表不增长
		existing.Position = position
		existing.ScoreAtTime = scoreAtTime
		existing.TotalPeersAtTime = totalPeers
		existing.DeltaFromPreviousWeek = s.deltaAgainstPrevious(learnerID, subjectID, windowStart, position)
		return s.HistoryRepo.Save(existing)
	}

	entry := &model.PositionEntry{
		LearnerID:             learnerID,
		SubjectID:             subjectID,
		WeekKey:               weekKey,
		WindowStart:           windowStart,
		WindowEnd:             windowEnd,
		Position:              position,
		ScoreAtTime:           scoreAtTime,
		TotalPeersAtTime:      totalPeers,
		DeltaFromPreviousWeek: s.deltaAgainstPrevious(learnerID, subjectID, windowStart, position),
	}
	if err := s.HistoryRepo.Create(entry); err != nil {
		return err
	}

	// 滑动窗口：只保留最近12周，最旧的先淘汰
	return s.HistoryRepo.TrimOldest(learnerID, subjectID, model.MaxPositionHistory)
}

// deltaAgainstPrevious 与时间上最近的前一周比较，正数表示排名上升（数字变小）
// 没有历史时为0
func (s *PositionHistoryService) deltaAgainstPrevious(learnerID, subjectID string, windowStart time.Time, position int) int {
	entries, err := s.HistoryRepo.History(learnerID, subjectID)
	if err != nil || len(entries) == 0 {
		return 0
	}
	var previous *model.PositionEntry
	for i := range entries {
		if entries[i].WindowStart.Before(windowStart) {
			previous = &entries[i]
		}
	}
	if previous == nil {
		return 0
	}
	return previous.Position - position
}

// History 学员×学科的周排名历史（只读，看板用）
func (s *PositionHistoryService) History(ctx context.Context, learnerID, subjectID string) ([]model.PositionEntry, error) {
	return s.HistoryRepo.History(learnerID, subjectID)
}
