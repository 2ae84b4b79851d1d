package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTable is a Redis-based implementation of Table.
// Suitable for distributed production deployments.
type RedisTable struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisTable creates a new Redis-based table
func NewRedisTable(ctx context.Context, config TableConfig, logger *zap.Logger) (*RedisTable, error) {
	addr := config.Redis.Addr
	if addr == "" {
		addr = config.Endpoint
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, config.timeout())
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	table := NewRedisTableFromClient(client, config, logger)
	table.logger.Info("redis table initialized",
		zap.String("addr", addr),
		zap.String("table", config.tableName()),
	)
	return table, nil
}

// NewRedisTableFromClient wraps an existing client.
func NewRedisTableFromClient(client *redis.Client, config TableConfig, logger *zap.Logger) *RedisTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentmem:"
	}
	return &RedisTable{
		client:    client,
		keyPrefix: keyPrefix + config.tableName() + ":",
		logger:    logger.With(zap.String("component", "table_redis")),
	}
}

// Close closes the table
func (t *RedisTable) Close() error {
	return t.client.Close()
}

// Ping checks if the table is healthy
func (t *RedisTable) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// redisKey returns the Redis key for a table key
func (t *RedisTable) redisKey(key string) string {
	return t.keyPrefix + key
}

// Get returns the value stored under key
func (t *RedisTable) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.client.Get(ctx, t.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put creates or replaces key
func (t *RedisTable) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	return t.client.Set(ctx, t.redisKey(key), value, 0).Err()
}

// Delete removes key
func (t *RedisTable) Delete(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Del(ctx, t.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scan walks keys with SCAN MATCH. The cursor is Redis' own scan cursor.
func (t *RedisTable) Scan(ctx context.Context, prefix, cursor string, limit int) ([]Record, string, error) {
	var scanCursor uint64
	if cursor != "" {
		c, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad scan cursor %q", ErrInvalidInput, cursor)
		}
		scanCursor = c
	}

	limit = normalizeLimit(limit)
	match := escapeGlob(t.redisKey(prefix)) + "*"

	seen := make(map[string]struct{})
	keys := make([]string, 0, limit)
	for {
		batch, next, err := t.client.Scan(ctx, scanCursor, match, int64(limit)).Result()
		if err != nil {
			return nil, "", err
		}
		for _, k := range batch {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
		scanCursor = next
		if scanCursor == 0 || len(keys) >= limit {
			break
		}
	}

	nextCursor := ""
	if scanCursor != 0 {
		nextCursor = strconv.FormatUint(scanCursor, 10)
	}
	if len(keys) == 0 {
		return []Record{}, nextCursor, nil
	}

	sort.Strings(keys)
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, "", err
	}

	out := make([]Record, 0, len(keys))
	for i, k := range keys {
		// deleted between SCAN and MGET
		if values[i] == nil {
			continue
		}
		var data []byte
		switch v := values[i].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		out = append(out, Record{Key: strings.TrimPrefix(k, t.keyPrefix), Value: data})
	}
	return out, nextCursor, nil
}

// BatchWrite applies deletes then puts in a MULTI/EXEC transaction
func (t *RedisTable) BatchWrite(ctx context.Context, puts []Record, deletes []string) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}
	for _, r := range puts {
		if r.Key == "" {
			return ErrInvalidInput
		}
	}

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range deletes {
			pipe.Del(ctx, t.redisKey(k))
		}
		for _, r := range puts {
			pipe.Set(ctx, t.redisKey(r.Key), r.Value, 0)
		}
		return nil
	})
	return err
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ensure RedisTable implements Table
var _ Table = (*RedisTable)(nil)
