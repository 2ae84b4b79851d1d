// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmem/memory"
	"github.com/BaSui01/agentmem/persistence"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 记忆默认值
	assert.Equal(t, memory.TypeHybrid, cfg.Memory.Type)
	assert.Equal(t, 100, cfg.Memory.Volatile.MaxMessages)
	assert.Equal(t, 10, cfg.Memory.Volatile.MaxConversations)
	assert.Equal(t, persistence.BackendMemory, cfg.Memory.Durable.Table.Backend)
	assert.Equal(t, 60*time.Second, cfg.Memory.Hybrid.SyncInterval)
	assert.False(t, cfg.Memory.Secure.Enabled)

	// 日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)

	// 指标与遥测
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "agentmem", cfg.Metrics.Namespace)
	assert.False(t, cfg.Telemetry.Enabled)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, memory.TypeHybrid, cfg.Memory.Type)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
memory:
  type: short_term
  volatile:
    max_messages: 50
    max_conversations: 3
  durable:
    scan_page_size: 25
    table:
      backend: redis
      table_name: "conversations"
      redis:
        addr: "redis.example.com:6379"
        db: 2
  hybrid:
    sync_interval: 5s
    sync_rate_limit: 20
  secure:
    enabled: true
    encryption_key: "0123456789abcdef0123456789abcdef"
    sensitive_patterns:
      - "secret-\\d+"
    access_control:
      enabled: true
      roles:
        reader: ["get_conversation", "get_messages"]
      users:
        alice: ["reader"]

log:
  level: "debug"
  format: "console"

metrics:
  namespace: "mem"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, memory.TypeShortTerm, cfg.Memory.Type)
	assert.Equal(t, memory.TypeVolatile, cfg.Memory.Type.Normalize())
	assert.Equal(t, 50, cfg.Memory.Volatile.MaxMessages)
	assert.Equal(t, 3, cfg.Memory.Volatile.MaxConversations)
	assert.Equal(t, 25, cfg.Memory.Durable.ScanPageSize)
	assert.Equal(t, persistence.BackendRedis, cfg.Memory.Durable.Table.Backend)
	assert.Equal(t, "conversations", cfg.Memory.Durable.Table.TableName)
	assert.Equal(t, "redis.example.com:6379", cfg.Memory.Durable.Table.Redis.Addr)
	assert.Equal(t, 2, cfg.Memory.Durable.Table.Redis.DB)
	// 未在文件中出现的字段保留默认值
	assert.Equal(t, "agentmem:", cfg.Memory.Durable.Table.Redis.KeyPrefix)

	assert.Equal(t, 5*time.Second, cfg.Memory.Hybrid.SyncInterval)
	assert.Equal(t, 20.0, cfg.Memory.Hybrid.SyncRateLimit)
	assert.True(t, cfg.Memory.Hybrid.FlushOnClose)

	assert.True(t, cfg.Memory.Secure.Enabled)
	assert.Equal(t, []string{`secret-\d+`}, cfg.Memory.Secure.SensitivePatterns)
	assert.Equal(t, []string{"get_conversation", "get_messages"}, cfg.Memory.Secure.AccessControl.Roles["reader"])
	assert.Equal(t, []string{"reader"}, cfg.Memory.Secure.AccessControl.Users["alice"])

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "mem", cfg.Metrics.Namespace)

	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"AGENTMEM_MEMORY_TYPE":                      "durable",
		"AGENTMEM_MEMORY_VOLATILE_MAX_MESSAGES":     "42",
		"AGENTMEM_MEMORY_DURABLE_TABLE_BACKEND":     "postgres",
		"AGENTMEM_MEMORY_DURABLE_TABLE_SQL_DSN":     "host=db user=mem",
		"AGENTMEM_MEMORY_DURABLE_TABLE_TIMEOUT":     "3s",
		"AGENTMEM_MEMORY_HYBRID_FLUSH_ON_CLOSE":     "false",
		"AGENTMEM_MEMORY_SECURE_SENSITIVE_PATTERNS": "a+, b+",
		"AGENTMEM_LOG_LEVEL":                        "warn",
		"AGENTMEM_LOG_OUTPUT_PATHS":                 "stdout, /var/log/agentmem.log",
		"AGENTMEM_TELEMETRY_SAMPLE_RATE":            "0.5",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, memory.TypeDurable, cfg.Memory.Type)
	assert.Equal(t, 42, cfg.Memory.Volatile.MaxMessages)
	assert.Equal(t, persistence.BackendPostgres, cfg.Memory.Durable.Table.Backend)
	assert.Equal(t, "host=db user=mem", cfg.Memory.Durable.Table.SQL.DSN)
	assert.Equal(t, 3*time.Second, cfg.Memory.Durable.Table.Timeout)
	assert.False(t, cfg.Memory.Hybrid.FlushOnClose)
	assert.Equal(t, []string{"a+", "b+"}, cfg.Memory.Secure.SensitivePatterns)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/var/log/agentmem.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
memory:
  volatile:
    max_messages: 10
    max_conversations: 4
log:
  level: "debug"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("AGENTMEM_MEMORY_VOLATILE_MAX_MESSAGES", "99")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 99, cfg.Memory.Volatile.MaxMessages)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, 4, cfg.Memory.Volatile.MaxConversations)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LOG_FORMAT", "console")
	t.Setenv("AGENTMEM_LOG_FORMAT", "json")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTMEM_MEMORY_HYBRID_SYNC_INTERVAL", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTMEM_MEMORY_HYBRID_SYNC_INTERVAL")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("AGENTMEM_MEMORY_VOLATILE_MAX_MESSAGES", "0")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_messages")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, memory.TypeHybrid, cfg.Memory.Type)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
memory:
  volatile: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			modify: func(*Config) {},
		},
		{
			name:    "unknown memory type",
			modify:  func(c *Config) { c.Memory.Type = "vector" },
			wantErr: "unknown memory type",
		},
		{
			name: "short encryption key",
			modify: func(c *Config) {
				c.Memory.Secure.Enabled = true
				c.Memory.Secure.EncryptionKey = "short"
			},
			wantErr: "encryption_key",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "unknown log level",
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "unknown log format",
		},
		{
			name:    "sample rate out of range",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: error\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, "error", cfg.Log.Level)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log: [oops"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("AGENTMEM_METRICS_LISTEN_ADDR", ":9102")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9102", cfg.Metrics.ListenAddr)
}

func TestLoader_ReportsEveryInvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTMEM_MEMORY_VOLATILE_MAX_MESSAGES", "many")
	t.Setenv("AGENTMEM_METRICS_ENABLED", "perhaps")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTMEM_MEMORY_VOLATILE_MAX_MESSAGES")
	assert.Contains(t, err.Error(), "AGENTMEM_METRICS_ENABLED")
}
