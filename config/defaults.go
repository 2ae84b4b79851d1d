// =============================================================================
// 📦 AgentMem 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"github.com/BaSui01/agentmem/internal/telemetry"
	"github.com/BaSui01/agentmem/memory"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Memory:    memory.DefaultConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "agentmem",
	}
}
