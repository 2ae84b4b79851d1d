// Package persistence provides the remote keyed-table abstraction used by the
// durable memory store, plus its backends.
package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/agentmem/internal/database"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// BackendType represents the type of table backend
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendRedis    BackendType = "redis"
	BackendMongo    BackendType = "mongo"
	BackendPostgres BackendType = "postgres"
	BackendMySQL    BackendType = "mysql"
	BackendSQLite   BackendType = "sqlite"
)

// IsSQL reports whether the backend is served by the gorm table.
func (b BackendType) IsSQL() bool {
	switch b {
	case BackendPostgres, BackendMySQL, BackendSQLite:
		return true
	}
	return false
}

// Record is a single key/value pair of a table.
type Record struct {
	Key   string
	Value []byte
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// Table is a remote key-value table. Implementations never retry; every
// failure other than a missing key is returned to the caller as-is.
type Table interface {
	Store

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put creates or replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Scan returns one page of records whose key starts with prefix.
	// limit is the page size hint; the returned cursor is empty once the
	// scan is exhausted. No ordering is guaranteed across backends.
	Scan(ctx context.Context, prefix, cursor string, limit int) ([]Record, string, error)

	// BatchWrite applies deletes then puts together, atomically where the
	// backend supports it.
	BatchWrite(ctx context.Context, puts []Record, deletes []string) error
}

// RedisConfig contains Redis-specific configuration
type RedisConfig struct {
	// Addr is host:port of the Redis server
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password" env:"PASSWORD"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db" env:"DB"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// MongoConfig contains MongoDB-specific configuration
type MongoConfig struct {
	URI      string `json:"uri" yaml:"uri" env:"URI"`
	Database string `json:"database" yaml:"database" env:"DATABASE"`
}

// SQLConfig contains configuration for the gorm-backed table
type SQLConfig struct {
	DSN  string              `json:"dsn" yaml:"dsn" env:"DSN"`
	Pool database.PoolConfig `json:"pool" yaml:"pool" env:"POOL"`

	// AutoMigrate creates the table on connect
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// TableConfig selects and configures a table backend
type TableConfig struct {
	// Backend is the storage backend type
	Backend BackendType `json:"backend" yaml:"backend" env:"BACKEND"`

	// TableName names the table, collection or key namespace
	TableName string `json:"table_name" yaml:"table_name" env:"TABLE_NAME"`

	// Region is recorded on spans and logs
	Region string `json:"region" yaml:"region" env:"REGION"`

	// Endpoint is the fallback address / URI / DSN of the selected backend
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`

	// Timeout bounds connection setup and health checks
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`

	Redis RedisConfig `json:"redis" yaml:"redis" env:"REDIS"`
	Mongo MongoConfig `json:"mongo" yaml:"mongo" env:"MONGO"`
	SQL   SQLConfig   `json:"sql" yaml:"sql" env:"SQL"`
}

// DefaultTableConfig returns the default table configuration
func DefaultTableConfig() TableConfig {
	pool := database.DefaultPoolConfig()
	return TableConfig{
		Backend:   BackendMemory,
		TableName: "agentmem_memory",
		Timeout:   5 * time.Second,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "agentmem:",
		},
		Mongo: MongoConfig{
			Database: "agentmem",
		},
		SQL: SQLConfig{
			Pool:        pool,
			AutoMigrate: true,
		},
	}
}

func (c TableConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

func (c TableConfig) tableName() string {
	if c.TableName == "" {
		return "agentmem_memory"
	}
	return c.TableName
}

// hasPrefix is shared by the in-process backends and result filtering.
func hasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
