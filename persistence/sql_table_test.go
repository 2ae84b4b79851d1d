package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/agentmem/internal/database"
)

func setupMockSQLTable(t *testing.T) (*SQLTable, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	cfg := DefaultTableConfig()
	cfg.Backend = BackendPostgres
	cfg.SQL.Pool = database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1}

	table, err := NewSQLTableFromDB(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)
	return table, mock
}

func TestSQLTable_GetPropagatesDriverError(t *testing.T) {
	table, mock := setupMockSQLTable(t)

	mock.ExpectQuery(`SELECT \* FROM "agentmem_memory"`).WillReturnError(sql.ErrConnDone)

	_, err := table.Get(context.Background(), "CONV#1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTable_GetMissingRow(t *testing.T) {
	table, mock := setupMockSQLTable(t)

	mock.ExpectQuery(`SELECT \* FROM "agentmem_memory"`).
		WillReturnRows(sqlmock.NewRows([]string{"record_key", "value", "updated_at"}))

	_, err := table.Get(context.Background(), "CONV#1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTable_BatchWriteRollsBack(t *testing.T) {
	table, mock := setupMockSQLTable(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "agentmem_memory"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "agentmem_memory"`).WillReturnError(sql.ErrTxDone)
	mock.ExpectRollback()

	err := table.BatchWrite(context.Background(),
		[]Record{{Key: "ITEM#k", Value: []byte("{}")}},
		[]string{"TAG#old#k"},
	)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTable_BatchWriteCommits(t *testing.T) {
	table, mock := setupMockSQLTable(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "agentmem_memory" .* ON CONFLICT`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := table.BatchWrite(context.Background(), []Record{
		{Key: "ITEM#k", Value: []byte("{}")},
		{Key: "TAG#a#k", Value: []byte("k")},
	}, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
