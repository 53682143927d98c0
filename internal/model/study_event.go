package model

import (
	"time"
)

// ActivityKind 学习活动类型
type ActivityKind string

const (
	ActivityQuiz        ActivityKind = "quiz"
	ActivityGuidedStudy ActivityKind = "guided_study"
	ActivityFreeStudy   ActivityKind = "free_study"
)

// StudyEvent 学习/测验流程产生的事件，三种类型共用一个结构
// Type 决定哪些字段有效
type StudyEvent struct {
	Type   ActivityKind `json:"type" binding:"required"`
	UnitID string       `json:"unitId" binding:"required"`
	// 可选：事件自带学科。缺省时从单元目录解析
	SubjectID       *string   `json:"subjectId,omitempty"`
	DurationMinutes int       `json:"durationMinutes"`
	Timestamp       time.Time `json:"timestamp" binding:"required"`

	// guided_study
	Succeeded         bool `json:"succeeded"`
	ConceptsSeen      int  `json:"conceptsSeen"`
	ConceptsMastered  int  `json:"conceptsMastered"`
	ConceptsReviewing int  `json:"conceptsReviewing"`

	// free_study
	ConceptsReviewed int `json:"conceptsReviewed"`

	// quiz
	Score    float64 `json:"score"`
	Accuracy float64 `json:"accuracy"`
}

// Validate 在变更边界拒绝不一致的事件，防止污染聚合数据
func (e *StudyEvent) Validate() error {
	switch e.Type {
	case ActivityQuiz, ActivityGuidedStudy, ActivityFreeStudy:
	default:
		return ErrInvalidEventType
	}
	if e.UnitID == "" || e.Timestamp.IsZero() {
		return ErrInvalidEvent
	}
	if e.DurationMinutes < 0 {
		return ErrInvalidEvent
	}
	if e.ConceptsSeen < 0 || e.ConceptsMastered < 0 || e.ConceptsReviewing < 0 || e.ConceptsReviewed < 0 {
		return ErrInvalidEvent
	}
	if e.Type == ActivityQuiz && (e.Accuracy < 0 || e.Accuracy > 100) {
		return ErrInvalidEvent
	}
	return nil
}
