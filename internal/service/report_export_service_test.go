package service

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"edurank_backend/internal/config"
	"edurank_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExportFixture(t *testing.T) (*rankingFixture, *ReportExportService, string) {
	t.Helper()
	f := newRankingFixture(t, nil)
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{Type: "local", LocalPath: dir}}
	exporter := NewReportExportService(f.ranking, NewStorageService(cfg))
	return f, exporter, dir
}

func TestExportRankingCSV_WritesSnapshotRows(t *testing.T) {
	f, exporter, dir := newExportFixture(t)
	seedUnitScope(t, f)

	url, err := exporter.ExportRankingCSV(context.Background(), ScopeUnit, "unit-1", "inst-1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/exports/rankings/"), url)

	raw, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/exports/")))
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6) // 表头 + 五名学员
	assert.Equal(t, []string{"position", "learner_id", "display_name", "score", "percentile"}, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "learner-A", records[1][1])
}

func TestExportRankingCSV_EmptyScope(t *testing.T) {
	_, exporter, _ := newExportFixture(t)

	_, err := exporter.ExportRankingCSV(context.Background(), ScopeUnit, "unit-ghost", "inst-1")
	assert.ErrorIs(t, err, util.ErrScopeEmpty)
}
