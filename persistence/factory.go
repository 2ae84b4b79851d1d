package persistence

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
)

// NewTable creates a new Table based on the configuration
func NewTable(ctx context.Context, config TableConfig, logger *zap.Logger) (Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case config.Backend == BackendMemory || config.Backend == "":
		return NewMemoryTable(), nil
	case config.Backend == BackendRedis:
		return NewRedisTable(ctx, config, logger)
	case config.Backend == BackendMongo:
		return NewMongoTable(ctx, config, logger)
	case config.Backend.IsSQL():
		return NewSQLTable(ctx, config, logger)
	default:
		return nil, fmt.Errorf("unsupported table backend: %s", config.Backend)
	}
}

// MustNewTable creates a new Table or panics on error.
//
// WARNING: This function should ONLY be used during application initialization.
// For runtime table creation, use NewTable instead.
func MustNewTable(ctx context.Context, config TableConfig, logger *zap.Logger) Table {
	table, err := NewTable(ctx, config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create table: %v", err))
	}
	return table
}

// NewTableOrExit creates a new Table or exits the program on error.
// This is a safer alternative to MustNewTable for CLI applications.
func NewTableOrExit(ctx context.Context, config TableConfig, logger *zap.Logger) Table {
	table, err := NewTable(ctx, config, logger)
	if err != nil {
		log.Printf("FATAL: failed to create table: %v", err)
		os.Exit(1)
	}
	return table
}
