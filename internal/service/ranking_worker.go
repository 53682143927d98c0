package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"edurank_backend/internal/config"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/util"
	"edurank_backend/pkg/logger"
	"edurank_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// rankingJob 一次排名重算任务，seq 在入队时领取保证作用域内单调
type rankingJob struct {
	ScopeKind string
	ScopeID   string
	LearnerID string
	Seq       uint64
}

// RankingWorker 后台排名调度器：
// 事件摄入把重算任务丢进队列立即返回，由单个工作协程串行消费；
// 另有定时任务兜底重算过期作用域
type RankingWorker struct {
	Ranking       *RankingService
	AggregateRepo *repository.AggregateRepository
	Cfg           config.RankingConfig

	jobs     chan rankingJob
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewRankingWorker(ranking *RankingService, aggregateRepo *repository.AggregateRepository, cfg config.RankingConfig) *RankingWorker {
	return &RankingWorker{
		Ranking:       ranking,
		AggregateRepo: aggregateRepo,
		Cfg:           cfg,
		jobs:          make(chan rankingJob, cfg.QueueSize()),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Enqueue 领取作用域序号后非阻塞入队
// 队列满时返回 false，调用方按尽力而为旁路处理；被丢弃的任务最终
// 会被过期作用域兜底重算覆盖，不会造成排名永久失真
func (w *RankingWorker) Enqueue(scopeKind, scopeID, learnerID string) bool {
	job := rankingJob{
		ScopeKind: scopeKind,
		ScopeID:   scopeID,
		LearnerID: learnerID,
		Seq:       w.Ranking.NextSeq(scopeKind + ":" + scopeID),
	}
	select {
	case w.jobs <- job:
		return true
	default:
		logger.Log.Warn("ranking queue full, job dropped",
			zap.String("scope", scopeKind),
			zap.String("scopeId", scopeID))
		monitoring.RankingJobsDroppedTotal.Inc()
		return false
	}
}

func (w *RankingWorker) Start() {
	go w.run()
}

func (w *RankingWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *RankingWorker) run() {
	defer close(w.done)

	// 过期作用域兜底扫描周期与过期窗口一致
	ticker := time.NewTicker(w.Cfg.Staleness())
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			// 退出前清空队列，避免已确认调度的任务丢失
			w.drain()
			return
		case job := <-w.jobs:
			w.process(job)
		case <-ticker.C:
			w.recomputeStaleScopes()
		}
	}
}

func (w *RankingWorker) drain() {
	for {
		select {
		case job := <-w.jobs:
			w.process(job)
		default:
			return
		}
	}
}

func (w *RankingWorker) process(job rankingJob) {
	ctx := context.Background()
	var err error
	switch job.ScopeKind {
	case ScopeUnit:
		err = w.Ranking.ComputeUnitRanking(ctx, job.LearnerID, job.ScopeID, job.Seq)
	case ScopeSubject:
		err = w.Ranking.ComputeSubjectRanking(ctx, job.LearnerID, job.ScopeID, job.Seq)
	}
	// 被更新结果超越的计算属于正常丢弃，不算失败
	if err != nil && !errors.Is(err, util.ErrStaleComputation) {
		logger.Log.Error("ranking recompute failed",
			zap.String("scope", job.ScopeKind),
			zap.String("scopeId", job.ScopeID),
			zap.String("learnerId", job.LearnerID),
			zap.Error(err))
	}
}

// recomputeStaleScopes 找出排名数据超过过期窗口未更新的作用域，全量重算
func (w *RankingWorker) recomputeStaleScopes() {
	ctx, cancel := context.WithTimeout(context.Background(), w.Cfg.ComputeTimeout())
	defer cancel()

	cutoff := time.Now().Add(-w.Cfg.Staleness())

	unitScopes, err := w.AggregateRepo.StaleUnitScopes(cutoff)
	if err != nil {
		logger.Log.Error("stale unit scope scan failed", zap.Error(err))
	}
	subjectScopes, err := w.AggregateRepo.StaleSubjectScopes(cutoff)
	if err != nil {
		logger.Log.Error("stale subject scope scan failed", zap.Error(err))
	}

	scopes := append(unitScopes, subjectScopes...)
	if len(scopes) == 0 {
		return
	}
	logger.Log.Info("recomputing stale ranking scopes", zap.Int("count", len(scopes)))

	for _, scope := range scopes {
		var institutions []string
		var err error
		if scope.Kind == ScopeUnit {
			institutions, err = w.AggregateRepo.UnitInstitutions(scope.ID)
		} else {
			institutions, err = w.AggregateRepo.SubjectInstitutions(scope.ID)
		}
		if err != nil {
			logger.Log.Error("institution scan failed",
				zap.String("scope", scope.Kind),
				zap.String("scopeId", scope.ID),
				zap.Error(err))
			continue
		}
		for _, institution := range institutions {
			result := w.Ranking.RecomputeScopeAll(ctx, scope.Kind, scope.ID, institution)
			if !result.OverallSuccess {
				logger.Log.Error("scope recompute incomplete",
					zap.String("scope", scope.Kind),
					zap.String("scopeId", scope.ID),
					zap.String("institution", institution),
					zap.Strings("errors", result.Errors))
			}
		}
		if ctx.Err() != nil {
			logger.Log.Warn("stale scope recompute timed out, remaining scopes deferred")
			return
		}
	}
}
