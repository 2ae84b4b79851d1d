package memory

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentmem/persistence"
)

// Type selects the store variant built by NewManager.
type Type string

const (
	TypeVolatile Type = "volatile"
	TypeDurable  Type = "durable"
	TypeHybrid   Type = "hybrid"

	// aliases accepted in configuration files
	TypeShortTerm Type = "short_term"
	TypeLongTerm  Type = "long_term"
)

// Normalize resolves aliases to their canonical variant.
func (t Type) Normalize() Type {
	switch t {
	case TypeShortTerm:
		return TypeVolatile
	case TypeLongTerm:
		return TypeDurable
	case "":
		return TypeHybrid
	}
	return t
}

// MinEncryptionKeyLength is the shortest secret accepted for encryption.
const MinEncryptionKeyLength = 32

// DefaultRedactionMarker replaces sensitive substrings on read.
const DefaultRedactionMarker = "[REDACTED]"

// Config 记忆子系统配置
type Config struct {
	// Type 存储类型: volatile | durable | hybrid
	Type Type `yaml:"type" json:"type" env:"TYPE"`

	Volatile VolatileConfig `yaml:"volatile" json:"volatile" env:"VOLATILE"`
	Durable  DurableConfig  `yaml:"durable" json:"durable" env:"DURABLE"`
	Hybrid   HybridConfig   `yaml:"hybrid" json:"hybrid" env:"HYBRID"`
	Secure   SecureConfig   `yaml:"secure" json:"secure" env:"SECURE"`
}

// VolatileConfig 进程内有界存储配置
type VolatileConfig struct {
	// 每个会话保留的最大消息数
	MaxMessages int `yaml:"max_messages" json:"max_messages" env:"MAX_MESSAGES"`
	// 最多保留的会话数，超出时淘汰 createdAt 最早的会话
	MaxConversations int `yaml:"max_conversations" json:"max_conversations" env:"MAX_CONVERSATIONS"`

	// Now 用于测试，默认 time.Now
	Now func() time.Time `yaml:"-" json:"-"`
}

// DurableConfig 远端持久存储配置
type DurableConfig struct {
	Table persistence.TableConfig `yaml:"table" json:"table" env:"TABLE"`

	// 标签搜索单页扫描条数
	ScanPageSize int `yaml:"scan_page_size" json:"scan_page_size" env:"SCAN_PAGE_SIZE"`

	// Now 用于测试，默认 time.Now
	Now func() time.Time `yaml:"-" json:"-"`
}

// HybridConfig 混合存储配置
type HybridConfig struct {
	// 后台同步间隔，<= 0 时只在 ForceSyncAll 与 Close 时同步
	SyncInterval time.Duration `yaml:"sync_interval" json:"sync_interval" env:"SYNC_INTERVAL"`
	// 同步写入持久层的速率上限（次/秒），0 表示不限速
	SyncRateLimit float64 `yaml:"sync_rate_limit" json:"sync_rate_limit" env:"SYNC_RATE_LIMIT"`
	// 令牌桶突发容量
	SyncBurst int `yaml:"sync_burst" json:"sync_burst" env:"SYNC_BURST"`
	// 关闭前是否执行最后一次同步
	FlushOnClose bool `yaml:"flush_on_close" json:"flush_on_close" env:"FLUSH_ON_CLOSE"`
	// 单次同步周期的超时
	SyncTimeout time.Duration `yaml:"sync_timeout" json:"sync_timeout" env:"SYNC_TIMEOUT"`
}

// SecureConfig 加密、脱敏与访问控制配置
type SecureConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 派生加密密钥的口令，至少 32 个字符
	EncryptionKey string `yaml:"encryption_key" json:"-" env:"ENCRYPTION_KEY"`

	AccessControl AccessControlConfig `yaml:"access_control" json:"access_control" env:"ACCESS_CONTROL"`

	// 敏感信息正则，为空时使用默认集合（邮箱、电话、卡号、SSN）
	SensitivePatterns []string `yaml:"sensitive_patterns" json:"sensitive_patterns" env:"SENSITIVE_PATTERNS"`
	RedactionEnabled  bool     `yaml:"redaction_enabled" json:"redaction_enabled" env:"REDACTION_ENABLED"`
	RedactionMarker   string   `yaml:"redaction_marker" json:"redaction_marker" env:"REDACTION_MARKER"`
	AuditLogging      bool     `yaml:"audit_logging" json:"audit_logging" env:"AUDIT_LOGGING"`
}

// AccessControlConfig 基于角色的访问控制配置
type AccessControlConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 角色 -> 允许的操作，"*" 表示全部
	Roles map[string][]string `yaml:"roles" json:"roles" env:"-"`
	// 用户 -> 角色
	Users map[string][]string `yaml:"users" json:"users" env:"-"`
	// 校验身份令牌的 HS256 密钥
	JWTSecret string `yaml:"jwt_secret" json:"-" env:"JWT_SECRET"`
}

// DefaultVolatileConfig 返回默认进程内存储配置
func DefaultVolatileConfig() VolatileConfig {
	return VolatileConfig{
		MaxMessages:      100,
		MaxConversations: 10,
	}
}

// DefaultHybridConfig 返回默认混合存储配置
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		SyncInterval: 60 * time.Second,
		SyncBurst:    1,
		FlushOnClose: true,
		SyncTimeout:  30 * time.Second,
	}
}

// DefaultConfig 返回默认记忆配置
func DefaultConfig() Config {
	return Config{
		Type:     TypeHybrid,
		Volatile: DefaultVolatileConfig(),
		Durable: DurableConfig{
			Table:        persistence.DefaultTableConfig(),
			ScanPageSize: 100,
		},
		Hybrid: DefaultHybridConfig(),
		Secure: SecureConfig{
			RedactionEnabled: true,
			RedactionMarker:  DefaultRedactionMarker,
		},
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	var errs []error

	switch c.Type.Normalize() {
	case TypeVolatile, TypeDurable, TypeHybrid:
	default:
		errs = append(errs, fmt.Errorf("unknown memory type %q", c.Type))
	}

	if c.Volatile.MaxMessages <= 0 {
		errs = append(errs, errors.New("volatile.max_messages must be positive"))
	}
	if c.Volatile.MaxConversations <= 0 {
		errs = append(errs, errors.New("volatile.max_conversations must be positive"))
	}

	switch c.Durable.Table.Backend {
	case "", persistence.BackendMemory, persistence.BackendRedis, persistence.BackendMongo,
		persistence.BackendPostgres, persistence.BackendMySQL, persistence.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown durable backend %q", c.Durable.Table.Backend))
	}

	if c.Hybrid.SyncRateLimit < 0 {
		errs = append(errs, errors.New("hybrid.sync_rate_limit must not be negative"))
	}

	if c.Secure.Enabled {
		if len(c.Secure.EncryptionKey) < MinEncryptionKeyLength {
			errs = append(errs, fmt.Errorf("secure.encryption_key must be at least %d characters", MinEncryptionKeyLength))
		}
		if _, err := compilePatterns(c.Secure.SensitivePatterns); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
