package repository

import (
	"testing"

	"edurank_backend/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

// MySQL 的 OFFSET 只能跟在 LIMIT 后面，裁剪必须生成带 LIMIT 的查询，
// 这里用 mysql 方言固定实际生成的语句形态
func TestTrimOldest_EmitsMySQLCompatibleStatements(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPositionHistoryRepository(db)

	// 14条超过上限12：裁剪最旧的2条
	mock.ExpectQuery(`SELECT count\(\*\) FROM .position_entries.`).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(14))
	mock.ExpectQuery(`SELECT \* FROM .position_entries. WHERE .* ORDER BY window_start ASC LIMIT \?`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "learner_id", "subject_id"}).
			AddRow(1, "learner-a", "subj-math").
			AddRow(2, "learner-a", "subj-math"))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM .position_entries. WHERE .position_entries.\..id. IN \(\?,\?\)`).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.TrimOldest("learner-a", "subj-math", model.MaxPositionHistory))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrimOldest_NoopUnderCap(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPositionHistoryRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM .position_entries.`).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(7))

	require.NoError(t, repo.TrimOldest("learner-a", "subj-math", model.MaxPositionHistory))
	assert.NoError(t, mock.ExpectationsWereMet())
}
