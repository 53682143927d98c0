package util

import "errors"

var (
	ErrLearnerNotFound  = errors.New("学员不存在")
	ErrUnitNotFound     = errors.New("学习单元不存在")
	ErrSubjectNotFound  = errors.New("学科不存在")
	ErrPermissionDenied = errors.New("permission denied")
	ErrScoreRegression  = errors.New("score would decrease, event rejected")
	ErrVersionConflict  = errors.New("aggregate version conflict")
	ErrScopeEmpty       = errors.New("scope has no scored learners")
	ErrStaleComputation = errors.New("ranking computation superseded")
)
