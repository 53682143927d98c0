package model

import (
	"time"
)

// DayBucket 星期直方图中单日的累计数据
type DayBucket struct {
	Minutes        int `json:"minutes"`
	QuizSessions   int `json:"quizSessions"`
	GuidedSessions int `json:"guidedSessions"`
	FreeSessions   int `json:"freeSessions"`
}

// WeeklyHistogram 固定7个桶（周一到周日），无论是否有学习活动桶数恒定
type WeeklyHistogram [7]DayBucket

// BucketIndex 根据事件时间所在的星期几选桶，周一为0
func BucketIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func (h *WeeklyHistogram) Add(t time.Time, minutes int, activity ActivityKind) {
	b := &h[BucketIndex(t)]
	b.Minutes += minutes
	switch activity {
	case ActivityQuiz:
		b.QuizSessions++
	case ActivityGuidedStudy:
		b.GuidedSessions++
	case ActivityFreeStudy:
		b.FreeSessions++
	}
}

// LearnerAggregate 学员全局汇总，每个学员一行
// 单元/学科KPI与排名历史规范化到子表，避免文档无限增长
type LearnerAggregate struct {
	BaseModel
	LearnerID     string `gorm:"size:36;uniqueIndex;not null" json:"learnerId"`
	InstitutionID string `gorm:"size:36;index;not null" json:"institutionId"`

	ScoreGlobal               float64 `gorm:"default:0" json:"scoreGlobal"`
	AveragePercentileGlobal   float64 `gorm:"default:50" json:"averagePercentileGlobal"` // 0-100，新学员默认50（人群中位数）
	TotalStudyMinutes         int     `gorm:"default:0" json:"totalStudyMinutes"`
	IntelligentSessionsGlobal int     `gorm:"default:0" json:"intelligentStudySessionsGlobal"`
	TotalUnits                int     `gorm:"default:0" json:"totalUnits"`
	TotalSubjects             int     `gorm:"default:0" json:"totalSubjects"`
	LastUpdated               time.Time `json:"lastUpdated"`

	Histogram WeeklyHistogram `gorm:"type:json;serializer:json" json:"weeklyHistogram"`

	// 乐观锁版本号，写入时必须携带读取到的版本
	Version int64 `gorm:"default:0" json:"-"`
}

func (LearnerAggregate) TableName() string {
	return "learner_aggregates"
}

// UnitKPI 学员×学习单元的KPI子表
type UnitKPI struct {
	BaseModel
	LearnerID string  `gorm:"size:36;uniqueIndex:idx_learner_unit;index;not null" json:"learnerId"`
	UnitID    string  `gorm:"size:36;uniqueIndex:idx_learner_unit;index;not null" json:"unitId"`
	SubjectID *string `gorm:"size:36;index" json:"subjectId,omitempty"`

	Score        float64 `gorm:"default:0" json:"score"`
	RankPosition int     `gorm:"default:0" json:"rankPosition"` // 1..totalPeers，未参与排名时为0
	TotalPeers   int     `gorm:"default:0" json:"totalPeers"`
	Percentile   float64 `gorm:"default:50" json:"percentile"` // 0-100

	ConceptCount      int `gorm:"default:0" json:"conceptCount"`
	LocalStudyMinutes int `gorm:"default:0" json:"localStudyMinutes"`

	IntelligentSessionsTotal      int     `gorm:"default:0" json:"intelligentSessionsTotal"`
	IntelligentSessionsSuccessful int     `gorm:"default:0" json:"intelligentSessionsSuccessful"`
	SuccessRate                   float64 `gorm:"default:0" json:"successRate"` // 百分比 0-100

	MasteredCount  int     `gorm:"default:0" json:"masteredCount"`
	ReviewingCount int     `gorm:"default:0" json:"reviewingCount"`
	MasteryRate    float64 `gorm:"default:0" json:"masteryRate"` // 百分比 0-100

	QuizMinutes   int `gorm:"default:0" json:"quizMinutes"`
	GuidedMinutes int `gorm:"default:0" json:"guidedStudyMinutes"`
	FreeMinutes   int `gorm:"default:0" json:"freeStudyMinutes"`
}

func (UnitKPI) TableName() string {
	return "unit_kpis"
}

// RecalcRates 重新计算派生比率，分母为0时比率为0
func (k *UnitKPI) RecalcRates() {
	if k.IntelligentSessionsTotal > 0 {
		k.SuccessRate = float64(k.IntelligentSessionsSuccessful) / float64(k.IntelligentSessionsTotal) * 100
	} else {
		k.SuccessRate = 0
	}
	if k.MasteredCount+k.ReviewingCount > 0 {
		k.MasteryRate = float64(k.MasteredCount) / float64(k.MasteredCount+k.ReviewingCount) * 100
	} else {
		k.MasteryRate = 0
	}
}

// SubjectKPI 学员×学科的KPI子表
type SubjectKPI struct {
	BaseModel
	LearnerID string `gorm:"size:36;uniqueIndex:idx_learner_subject;index;not null" json:"learnerId"`
	SubjectID string `gorm:"size:36;uniqueIndex:idx_learner_subject;index;not null" json:"subjectId"`

	DisplayName  string  `gorm:"size:100" json:"displayName"`
	Score        float64 `gorm:"default:0" json:"score"`
	RankPosition int     `gorm:"default:0" json:"rankPosition"`
	TotalPeers   int     `gorm:"default:0" json:"totalPeers"`
	Percentile   float64 `gorm:"default:50" json:"percentile"`

	StudyMinutes        int      `gorm:"default:0" json:"studyMinutes"`
	IntelligentSessions int      `gorm:"default:0" json:"intelligentSessions"`
	ChildUnitIDs        []string `gorm:"type:json;serializer:json" json:"childUnitIds"`
}

func (SubjectKPI) TableName() string {
	return "subject_kpis"
}

// AddChildUnit 记录学科下出现过的单元，集合语义，顺序不敏感
func (k *SubjectKPI) AddChildUnit(unitID string) {
	for _, id := range k.ChildUnitIDs {
		if id == unitID {
			return
		}
	}
	k.ChildUnitIDs = append(k.ChildUnitIDs, unitID)
}

// PositionEntry 学员×学科的周排名历史，每周一条，每个学科最多保留12条
type PositionEntry struct {
	BaseModel
	LearnerID string `gorm:"size:36;uniqueIndex:idx_learner_subject_week;index;not null" json:"learnerId"`
	SubjectID string `gorm:"size:36;uniqueIndex:idx_learner_subject_week;index;not null" json:"subjectId"`
	WeekKey   string `gorm:"size:10;uniqueIndex:idx_learner_subject_week;not null" json:"weekKey"` // ISO 年-周，如 2026-35

	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	Position              int     `json:"position"`
	ScoreAtTime           float64 `json:"scoreAtTime"`
	TotalPeersAtTime      int     `json:"totalPeersAtTime"`
	DeltaFromPreviousWeek int     `json:"deltaFromPreviousWeek"` // 正数表示排名上升
}

func (PositionEntry) TableName() string {
	return "position_entries"
}

// MaxPositionHistory 每个学员×学科保留的周排名条数上限
const MaxPositionHistory = 12
