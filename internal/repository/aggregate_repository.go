package repository

import (
	"time"

	"edurank_backend/internal/model"

	"gorm.io/gorm"
)

// AggregateRepository 学员聚合及其子表的读写
type AggregateRepository struct {
	DB *gorm.DB
}

func NewAggregateRepository(db *gorm.DB) *AggregateRepository {
	return &AggregateRepository{DB: db}
}

func (r *AggregateRepository) FindByLearner(learnerID string) (*model.LearnerAggregate, error) {
	var agg model.LearnerAggregate
	err := r.DB.Where("learner_id = ?", learnerID).First(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *AggregateRepository) Create(agg *model.LearnerAggregate) error {
	return r.DB.Create(agg).Error
}

func (r *AggregateRepository) UnitKPIs(learnerID string) ([]model.UnitKPI, error) {
	var kpis []model.UnitKPI
	err := r.DB.Where("learner_id = ?", learnerID).Find(&kpis).Error
	return kpis, err
}

func (r *AggregateRepository) FindUnitKPI(learnerID, unitID string) (*model.UnitKPI, error) {
	var kpi model.UnitKPI
	err := r.DB.Where("learner_id = ? AND unit_id = ?", learnerID, unitID).First(&kpi).Error
	if err != nil {
		return nil, err
	}
	return &kpi, nil
}

func (r *AggregateRepository) SubjectKPIs(learnerID string) ([]model.SubjectKPI, error) {
	var kpis []model.SubjectKPI
	err := r.DB.Where("learner_id = ?", learnerID).Find(&kpis).Error
	return kpis, err
}

func (r *AggregateRepository) FindSubjectKPI(learnerID, subjectID string) (*model.SubjectKPI, error) {
	var kpi model.SubjectKPI
	err := r.DB.Where("learner_id = ? AND subject_id = ?", learnerID, subjectID).First(&kpi).Error
	if err != nil {
		return nil, err
	}
	return &kpi, nil
}

// PeerScore 排名扫描的单行结果
type PeerScore struct {
	LearnerID   string  `json:"learnerId"`
	DisplayName string  `json:"displayName"`
	Score       float64 `json:"score"`
}

// ScoredUnitPeers 机构内对某单元有非零分数的全部学员
// 排序在排名引擎内完成，这里只负责扫描
func (r *AggregateRepository) ScoredUnitPeers(institutionID, unitID string) ([]PeerScore, error) {
	var peers []PeerScore
	err := r.DB.Table("unit_kpis").
		Select("unit_kpis.learner_id AS learner_id, learners.display_name AS display_name, unit_kpis.score AS score").
		Joins("JOIN learners ON learners.id = unit_kpis.learner_id").
		Where("unit_kpis.unit_id = ? AND learners.institution_id = ? AND unit_kpis.score > 0", unitID, institutionID).
		Where("unit_kpis.deleted_at IS NULL").
		Scan(&peers).Error
	return peers, err
}

func (r *AggregateRepository) ScoredSubjectPeers(institutionID, subjectID string) ([]PeerScore, error) {
	var peers []PeerScore
	err := r.DB.Table("subject_kpis").
		Select("subject_kpis.learner_id AS learner_id, learners.display_name AS display_name, subject_kpis.score AS score").
		Joins("JOIN learners ON learners.id = subject_kpis.learner_id").
		Where("subject_kpis.subject_id = ? AND learners.institution_id = ? AND subject_kpis.score > 0", subjectID, institutionID).
		Where("subject_kpis.deleted_at IS NULL").
		Scan(&peers).Error
	return peers, err
}

func (r *AggregateRepository) UpdateUnitRanking(learnerID, unitID string, position, totalPeers int, percentile float64) error {
	return r.DB.Model(&model.UnitKPI{}).
		Where("learner_id = ? AND unit_id = ?", learnerID, unitID).
		Updates(map[string]interface{}{
			"rank_position": position,
			"total_peers":   totalPeers,
			"percentile":    percentile,
		}).Error
}

func (r *AggregateRepository) UpdateSubjectRanking(learnerID, subjectID string, position, totalPeers int, percentile float64) error {
	return r.DB.Model(&model.SubjectKPI{}).
		Where("learner_id = ? AND subject_id = ?", learnerID, subjectID).
		Updates(map[string]interface{}{
			"rank_position": position,
			"total_peers":   totalPeers,
			"percentile":    percentile,
		}).Error
}

// UnitPercentiles 学员当前所有单元的百分位，用来重算全局平均百分位
func (r *AggregateRepository) UnitPercentiles(learnerID string) ([]float64, error) {
	var percentiles []float64
	err := r.DB.Model(&model.UnitKPI{}).
		Where("learner_id = ?", learnerID).
		Pluck("percentile", &percentiles).Error
	return percentiles, err
}

func (r *AggregateRepository) UpdateGlobalPercentile(learnerID string, avg float64) error {
	return r.DB.Model(&model.LearnerAggregate{}).
		Where("learner_id = ?", learnerID).
		Update("average_percentile_global", avg).Error
}

// UnitInstitutions 持有该单元KPI的学员所属机构（去重）
func (r *AggregateRepository) UnitInstitutions(unitID string) ([]string, error) {
	var ids []string
	err := r.DB.Table("unit_kpis").
		Distinct("learners.institution_id").
		Joins("JOIN learners ON learners.id = unit_kpis.learner_id").
		Where("unit_kpis.unit_id = ? AND unit_kpis.deleted_at IS NULL", unitID).
		Pluck("learners.institution_id", &ids).Error
	return ids, err
}

func (r *AggregateRepository) SubjectInstitutions(subjectID string) ([]string, error) {
	var ids []string
	err := r.DB.Table("subject_kpis").
		Distinct("learners.institution_id").
		Joins("JOIN learners ON learners.id = subject_kpis.learner_id").
		Where("subject_kpis.subject_id = ? AND subject_kpis.deleted_at IS NULL", subjectID).
		Pluck("learners.institution_id", &ids).Error
	return ids, err
}

// RankScope 需要重算排名的作用域
type RankScope struct {
	Kind string // unit / subject
	ID   string
}

// StaleUnitScopes 排名写入时间早于 cutoff 的单元作用域（定时批量重算用）
func (r *AggregateRepository) StaleUnitScopes(cutoff time.Time) ([]RankScope, error) {
	var ids []string
	err := r.DB.Model(&model.UnitKPI{}).
		Where("score > 0").
		Group("unit_id").
		Having("MAX(updated_at) < ?", cutoff).
		Pluck("unit_id", &ids).Error
	if err != nil {
		return nil, err
	}
	scopes := make([]RankScope, len(ids))
	for i, id := range ids {
		scopes[i] = RankScope{Kind: "unit", ID: id}
	}
	return scopes, nil
}

func (r *AggregateRepository) StaleSubjectScopes(cutoff time.Time) ([]RankScope, error) {
	var ids []string
	err := r.DB.Model(&model.SubjectKPI{}).
		Where("score > 0").
		Group("subject_id").
		Having("MAX(updated_at) < ?", cutoff).
		Pluck("subject_id", &ids).Error
	if err != nil {
		return nil, err
	}
	scopes := make([]RankScope, len(ids))
	for i, id := range ids {
		scopes[i] = RankScope{Kind: "subject", ID: id}
	}
	return scopes, nil
}
