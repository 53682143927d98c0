package model

import "time"

// RankingRow 排名表中的一行
type RankingRow struct {
	LearnerID   string  `json:"learnerId"`
	DisplayName string  `json:"displayName"`
	Score       float64 `json:"score"`
	Position    int     `json:"position"`
}

// RankingSnapshot 某个单元或学科的瞬时排名，按请求即时计算，不做持久缓存
type RankingSnapshot struct {
	ScopeKind  string       `json:"scopeKind"` // unit / subject
	ScopeID    string       `json:"scopeId"`
	Rows       []RankingRow `json:"rows"`
	TotalPeers int          `json:"totalPeers"`
	ComputedAt time.Time    `json:"computedAt"`
}

// AggregateView 面向看板的完整聚合快照（只读）
type AggregateView struct {
	LearnerID               string                     `json:"learnerId"`
	InstitutionID           string                     `json:"institutionId"`
	ScoreGlobal             float64                    `json:"scoreGlobal"`
	AveragePercentileGlobal float64                    `json:"averagePercentileGlobal"`
	TotalStudyMinutes       int                        `json:"totalStudyMinutes"`
	IntelligentSessions     int                        `json:"intelligentStudySessionsGlobal"`
	TotalUnits              int                        `json:"totalUnits"`
	TotalSubjects           int                        `json:"totalSubjects"`
	LastUpdated             time.Time                  `json:"lastUpdated"`
	WeeklyHistogram         WeeklyHistogram            `json:"weeklyHistogram"`
	Units                   map[string]UnitKPI         `json:"unitAggregates"`
	Subjects                map[string]SubjectKPI      `json:"subjectAggregates,omitempty"`
	PositionHistory         map[string][]PositionEntry `json:"positionHistory,omitempty"`
}
