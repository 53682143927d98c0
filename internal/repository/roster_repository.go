package repository

import (
	"edurank_backend/internal/model"
	"edurank_backend/internal/util"

	"gorm.io/gorm"
)

// RosterRepository 名册/目录查询，对应账号与内容管理子系统同步过来的数据
type RosterRepository struct {
	DB *gorm.DB
}

func NewRosterRepository(db *gorm.DB) *RosterRepository {
	return &RosterRepository{DB: db}
}

func (r *RosterRepository) FindLearner(id string) (*model.Learner, error) {
	var learner model.Learner
	err := r.DB.First(&learner, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.ErrLearnerNotFound
		}
		return nil, err
	}
	return &learner, nil
}

func (r *RosterRepository) InstitutionRoster(institutionID string) ([]model.Learner, error) {
	var learners []model.Learner
	err := r.DB.Where("institution_id = ?", institutionID).Find(&learners).Error
	return learners, err
}

// FindUnit 单元目录查询，同时承担 UnitOwner 解析（单元 → 归属学员 + 可选学科）
func (r *RosterRepository) FindUnit(id string) (*model.Unit, error) {
	var unit model.Unit
	err := r.DB.First(&unit, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.ErrUnitNotFound
		}
		return nil, err
	}
	return &unit, nil
}

func (r *RosterRepository) FindSubject(id string) (*model.Subject, error) {
	var subject model.Subject
	err := r.DB.First(&subject, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.ErrSubjectNotFound
		}
		return nil, err
	}
	return &subject, nil
}

// SubjectName 仅在首次创建聚合条目时用来填充可读名称
func (r *RosterRepository) SubjectName(id string) string {
	subject, err := r.FindSubject(id)
	if err != nil {
		return ""
	}
	return subject.DisplayName
}

func (r *RosterRepository) UpsertLearner(learner *model.Learner) error {
	var existing model.Learner
	err := r.DB.First(&existing, "id = ?", learner.ID).Error
	if err == gorm.ErrRecordNotFound {
		return r.DB.Create(learner).Error
	}
	if err != nil {
		return err
	}
	existing.InstitutionID = learner.InstitutionID
	existing.DisplayName = learner.DisplayName
	return r.DB.Save(&existing).Error
}

func (r *RosterRepository) UpsertUnit(unit *model.Unit) error {
	var existing model.Unit
	err := r.DB.First(&existing, "id = ?", unit.ID).Error
	if err == gorm.ErrRecordNotFound {
		return r.DB.Create(unit).Error
	}
	if err != nil {
		return err
	}
	existing.OwnerID = unit.OwnerID
	existing.SubjectID = unit.SubjectID
	existing.DisplayName = unit.DisplayName
	return r.DB.Save(&existing).Error
}

func (r *RosterRepository) UpsertSubject(subject *model.Subject) error {
	var existing model.Subject
	err := r.DB.First(&existing, "id = ?", subject.ID).Error
	if err == gorm.ErrRecordNotFound {
		return r.DB.Create(subject).Error
	}
	if err != nil {
		return err
	}
	existing.DisplayName = subject.DisplayName
	return r.DB.Save(&existing).Error
}
