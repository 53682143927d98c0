package repository

import (
	"edurank_backend/internal/model"

	"gorm.io/gorm"
)

// PositionHistoryRepository 周排名历史子表的读写
type PositionHistoryRepository struct {
	DB *gorm.DB
}

func NewPositionHistoryRepository(db *gorm.DB) *PositionHistoryRepository {
	return &PositionHistoryRepository{DB: db}
}

// History 按时间升序返回学员×学科的全部周排名条目
func (r *PositionHistoryRepository) History(learnerID, subjectID string) ([]model.PositionEntry, error) {
	var entries []model.PositionEntry
	err := r.DB.Where("learner_id = ? AND subject_id = ?", learnerID, subjectID).
		Order("window_start ASC").
		Find(&entries).Error
	return entries, err
}

func (r *PositionHistoryRepository) FindByWeek(learnerID, subjectID, weekKey string) (*model.PositionEntry, error) {
	var entry model.PositionEntry
	err := r.DB.Where("learner_id = ? AND subject_id = ? AND week_key = ?", learnerID, subjectID, weekKey).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *PositionHistoryRepository) Create(entry *model.PositionEntry) error {
	return r.DB.Create(entry).Error
}

func (r *PositionHistoryRepository) Save(entry *model.PositionEntry) error {
	return r.DB.Save(entry).Error
}

// TrimOldest 只保留最近 keep 条，淘汰最旧的周（滑动窗口）。
// MySQL 不支持没有 LIMIT 的 OFFSET 子句，所以先数总数，再按最旧的 excess 条定位删除
func (r *PositionHistoryRepository) TrimOldest(learnerID, subjectID string, keep int) error {
	var count int64
	err := r.DB.Model(&model.PositionEntry{}).
		Where("learner_id = ? AND subject_id = ?", learnerID, subjectID).
		Count(&count).Error
	if err != nil {
		return err
	}
	excess := int(count) - keep
	if excess <= 0 {
		return nil
	}

	var entries []model.PositionEntry
	err = r.DB.Where("learner_id = ? AND subject_id = ?", learnerID, subjectID).
		Order("window_start ASC").
		Limit(excess).
		Find(&entries).Error
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	ids := make([]uint, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return r.DB.Unscoped().Delete(&model.PositionEntry{}, ids).Error
}
