package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"edurank_backend/internal/util"
	"edurank_backend/pkg/logger"

	"go.uber.org/zap"
)

// ReportExportService 把排名表导出成CSV并上传到对象存储
type ReportExportService struct {
	Ranking *RankingService
	Storage *StorageService
}

func NewReportExportService(ranking *RankingService, storage *StorageService) *ReportExportService {
	return &ReportExportService{Ranking: ranking, Storage: storage}
}

// ExportRankingCSV 导出某个作用域在某机构下的当前排名表，返回文件访问路径
func (s *ReportExportService) ExportRankingCSV(ctx context.Context, scopeKind, scopeID, institutionID string) (string, error) {
	snapshot, err := s.Ranking.GetRankingTable(ctx, scopeKind, scopeID, institutionID, 0)
	if err != nil {
		return "", err
	}
	// 没有任何有分学员时不产出空报表
	if snapshot.TotalPeers == 0 {
		return "", util.ErrScopeEmpty
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"position", "learner_id", "display_name", "score", "percentile"})
	for _, row := range snapshot.Rows {
		_ = w.Write([]string{
			strconv.Itoa(row.Position),
			row.LearnerID,
			row.DisplayName,
			strconv.FormatFloat(row.Score, 'f', 2, 64),
			strconv.FormatFloat(Percentile(row.Position, snapshot.TotalPeers), 'f', 2, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("rankings/%s_%s_%s_%s.csv",
		scopeKind, scopeID, institutionID, time.Now().Format("20060102T150405"))

	url, err := s.Storage.Upload(ctx, filename, &buf, int64(buf.Len()), "text/csv")
	if err != nil {
		return "", err
	}

	logger.Log.Info("ranking report exported",
		zap.String("scope", scopeKind),
		zap.String("scopeId", scopeID),
		zap.String("file", filename),
		zap.Int("rows", len(snapshot.Rows)))
	return url, nil
}
