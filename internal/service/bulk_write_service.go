package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edurank_backend/internal/config"
	"edurank_backend/internal/util"
	"edurank_backend/pkg/logger"
	"edurank_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type WriteOpKind string

const (
	// OpPut 插入或整行替换
	OpPut WriteOpKind = "put"
	// OpUpdate 按条件更新部分字段
	OpUpdate WriteOpKind = "update"
	// OpDelete 按实体或条件删除
	OpDelete WriteOpKind = "delete"
)

// WriteOp 一条异构写操作
// Put/Delete 以 Entity 为目标；Update 以 Model+Where+Fields 为目标
// Guard 表示该更新必须命中至少一行（乐观锁条件写），否则整块回滚
type WriteOp struct {
	Kind   WriteOpKind
	Entity interface{}
	Model  interface{}
	Where  string
	Args   []interface{}
	Fields map[string]interface{}
	Guard  bool
}

// BulkProgress 每个块提交（或放弃）后回调：累计成功操作数 / 原始总数
type BulkProgress func(succeeded, total int)

// BulkWriteResult 执行摘要。失败信息全部在结果里返回，绝不向调用方抛出
type BulkWriteResult struct {
	OverallSuccess  bool          `json:"overallSuccess"`
	TotalOperations int           `json:"totalOperations"`
	ChunksExecuted  int           `json:"chunksExecuted"`
	Errors          []string      `json:"errors"`
	Elapsed         time.Duration `json:"elapsedMs"`
}

// BulkWriteService 把任意长度的写操作列表切成固定大小的块逐块原子提交
// 存储层限制单个事务最多500个操作
type BulkWriteService struct {
	DB  *gorm.DB
	Cfg config.BulkConfig
}

func NewBulkWriteService(db *gorm.DB, cfg config.BulkConfig) *BulkWriteService {
	return &BulkWriteService{DB: db, Cfg: cfg}
}

func (s *BulkWriteService) Execute(ctx context.Context, ops []WriteOp, progress BulkProgress) BulkWriteResult {
	start := time.Now()
	result := BulkWriteResult{
		TotalOperations: len(ops),
		Errors:          []string{},
	}

	// 空输入直接短路成功
	if len(ops) == 0 {
		result.OverallSuccess = true
		result.Elapsed = time.Since(start)
		return result
	}

	chunkSize := s.Cfg.EffectiveChunkSize()
	retries := s.Cfg.EffectiveRetries()
	backoff := s.Cfg.RetryBackoff()

	succeeded := 0
	for offset := 0; offset < len(ops); offset += chunkSize {
		end := offset + chunkSize
		if end > len(ops) {
			end = len(ops)
		}
		chunk := ops[offset:end]
		chunkIndex := result.ChunksExecuted
		result.ChunksExecuted++

		var lastErr error
		// 首次尝试 + 最多 retries 次重试，线性退避：次数 × 基础延迟
		for attempt := 0; attempt <= retries; attempt++ {
			if attempt > 0 {
				monitoring.BulkRetriesTotal.Inc()
				select {
				case <-time.After(time.Duration(attempt) * backoff):
				case <-ctx.Done():
				}
				if ctx.Err() != nil {
					lastErr = ctx.Err()
					break
				}
			}
			lastErr = s.commitChunk(ctx, chunk)
			if lastErr == nil {
				break
			}
			logger.Log.Warn("bulk chunk commit failed",
				zap.Int("chunk", chunkIndex),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			// 版本冲突重试也不会成立，调用方需要重新读取后重放
			if errors.Is(lastErr, util.ErrVersionConflict) {
				break
			}
		}

		if lastErr != nil {
			// 块之间互相独立：记录错误后继续处理剩余块
			monitoring.BulkChunksTotal.WithLabelValues("failed").Inc()
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d (operations %d-%d) failed after %d attempts: %v",
					chunkIndex, offset, end-1, retries+1, lastErr))
		} else {
			monitoring.BulkChunksTotal.WithLabelValues("committed").Inc()
			succeeded += len(chunk)
		}

		if progress != nil {
			progress(succeeded, len(ops))
		}
	}

	result.OverallSuccess = len(result.Errors) == 0
	result.Elapsed = time.Since(start)

	logger.Log.Info("bulk write finished",
		zap.Int("total", result.TotalOperations),
		zap.Int("chunks", result.ChunksExecuted),
		zap.Int("succeeded", succeeded),
		zap.Bool("overallSuccess", result.OverallSuccess),
		zap.Duration("elapsed", result.Elapsed))

	return result
}

// commitChunk 块内所有操作在一个事务里提交，任意一条失败整块回滚
func (s *BulkWriteService) commitChunk(ctx context.Context, chunk []WriteOp) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, op := range chunk {
			if err := applyOp(tx, op); err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
			}
		}
		return nil
	})
}

func applyOp(tx *gorm.DB, op WriteOp) error {
	switch op.Kind {
	case OpPut:
		return tx.Save(op.Entity).Error
	case OpUpdate:
		res := tx.Model(op.Model).Where(op.Where, op.Args...).Updates(op.Fields)
		if res.Error != nil {
			return res.Error
		}
		if op.Guard && res.RowsAffected == 0 {
			return util.ErrVersionConflict
		}
		return nil
	case OpDelete:
		if op.Where != "" {
			return tx.Where(op.Where, op.Args...).Delete(op.Model).Error
		}
		return tx.Delete(op.Entity).Error
	default:
		return fmt.Errorf("unknown write op kind %q", op.Kind)
	}
}
