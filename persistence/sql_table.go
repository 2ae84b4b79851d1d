package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/agentmem/internal/database"
)

// sqlRecord is the row layout shared by every SQL dialect.
type sqlRecord struct {
	RecordKey string `gorm:"column:record_key;primaryKey;size:512"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

// SQLTable is a gorm-backed Table for PostgreSQL, MySQL and SQLite.
type SQLTable struct {
	pool   *database.PoolManager
	table  string
	logger *zap.Logger
}

// NewSQLTable opens the configured dialect and wraps it in a pool manager
func NewSQLTable(ctx context.Context, config TableConfig, logger *zap.Logger) (*SQLTable, error) {
	dsn := config.SQL.DSN
	if dsn == "" {
		dsn = config.Endpoint
	}

	var dialector gorm.Dialector
	switch config.Backend {
	case BackendPostgres:
		dialector = postgres.Open(dsn)
	case BackendMySQL:
		dialector = mysql.Open(dsn)
	case BackendSQLite:
		if dsn == "" {
			dsn = "agentmem.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported SQL backend: %s", config.Backend)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: dsn is required for %s", ErrInvalidInput, config.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Backend, err)
	}

	t, err := NewSQLTableFromDB(db, config, logger)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.timeout())
	defer cancel()
	if err := t.Ping(pingCtx); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Backend, err)
	}

	if config.SQL.AutoMigrate {
		if err := t.Migrate(ctx); err != nil {
			_ = t.Close()
			return nil, err
		}
	}

	t.logger.Info("sql table initialized",
		zap.String("backend", string(config.Backend)),
		zap.String("table", t.table),
	)
	return t, nil
}

// NewSQLTableFromDB wraps an already opened gorm DB.
func NewSQLTableFromDB(db *gorm.DB, config TableConfig, logger *zap.Logger) (*SQLTable, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPoolManager(db, config.SQL.Pool, logger)
	if err != nil {
		return nil, err
	}
	return &SQLTable{
		pool:   pool,
		table:  config.tableName(),
		logger: logger.With(zap.String("component", "table_sql")),
	}, nil
}

// Migrate creates or updates the backing table.
func (t *SQLTable) Migrate(ctx context.Context) error {
	if err := t.db(ctx).AutoMigrate(&sqlRecord{}); err != nil {
		return fmt.Errorf("failed to migrate table %s: %w", t.table, err)
	}
	return nil
}

// Stats exposes the pool statistics.
func (t *SQLTable) Stats() database.PoolStats {
	return t.pool.GetStats()
}

// Close closes the table
func (t *SQLTable) Close() error {
	return t.pool.Close()
}

// Ping checks if the table is healthy
func (t *SQLTable) Ping(ctx context.Context) error {
	return t.pool.Ping(ctx)
}

func (t *SQLTable) db(ctx context.Context) *gorm.DB {
	return t.pool.DB().WithContext(ctx).Table(t.table)
}

// Get returns the value stored under key
func (t *SQLTable) Get(ctx context.Context, key string) ([]byte, error) {
	var rec sqlRecord
	err := t.db(ctx).Where("record_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// Put creates or replaces key
func (t *SQLTable) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	return upsert(t.db(ctx), []sqlRecord{{RecordKey: key, Value: value, UpdatedAt: time.Now().UTC()}})
}

// Delete removes key
func (t *SQLTable) Delete(ctx context.Context, key string) (bool, error) {
	res := t.db(ctx).Where("record_key = ?", key).Delete(&sqlRecord{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Scan pages through keys with a LIKE prefix match in key order. The
// cursor is the last key of the previous page.
func (t *SQLTable) Scan(ctx context.Context, prefix, cursor string, limit int) ([]Record, string, error) {
	limit = normalizeLimit(limit)

	q := t.db(ctx)
	if prefix != "" {
		q = q.Where("record_key LIKE ? ESCAPE '!'", escapeLike(prefix)+"%")
	}
	if cursor != "" {
		q = q.Where("record_key > ?", cursor)
	}

	var rows []sqlRecord
	if err := q.Order("record_key").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = rows[len(rows)-1].RecordKey
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		// LIKE is case-insensitive on sqlite and most mysql collations
		if !hasPrefix(r.RecordKey, prefix) {
			continue
		}
		out = append(out, Record{Key: r.RecordKey, Value: r.Value})
	}
	return out, next, nil
}

// BatchWrite applies deletes then puts in one transaction
func (t *SQLTable) BatchWrite(ctx context.Context, puts []Record, deletes []string) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]sqlRecord, 0, len(puts))
	for _, r := range puts {
		if r.Key == "" {
			return ErrInvalidInput
		}
		rows = append(rows, sqlRecord{RecordKey: r.Key, Value: r.Value, UpdatedAt: now})
	}

	return t.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if len(deletes) > 0 {
			if err := tx.Table(t.table).Where("record_key IN ?", deletes).Delete(&sqlRecord{}).Error; err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			return upsert(tx.Table(t.table), rows)
		}
		return nil
	})
}

func upsert(db *gorm.DB, rows []sqlRecord) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}

// escapeLike quotes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

// Ensure SQLTable implements Table
var _ Table = (*SQLTable)(nil)
