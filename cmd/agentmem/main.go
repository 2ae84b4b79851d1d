// =============================================================================
// AgentMem 运维入口
// =============================================================================
// 面向运维的命令行工具，直接操作持久存储
//
// 使用方法:
//
//	agentmem ping   --config config.yaml   # 检查持久存储连通性
//	agentmem migrate                       # 创建 SQL 表结构
//	agentmem list   --limit 20             # 列出持久存储中的会话
//	agentmem get    [--token jwt] <id>     # 打印单个会话
//	agentmem serve                         # 运行混合存储后台同步并暴露 /metrics
//	agentmem version                       # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmem/config"
	"github.com/BaSui01/agentmem/internal/metrics"
	"github.com/BaSui01/agentmem/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "ping":
		err = runPing(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "agentmem %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// =============================================================================
// 🔧 公共初始化
// =============================================================================

// app 单条命令运行期间共享的依赖
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers
}

// newFlagSet 创建带 --config 的子命令参数集
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	return fs, configPath
}

// bootstrap 加载配置并初始化日志、指标与遥测
func bootstrap(configPath string) (*app, error) {
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := initLogger(cfg.Log)

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	a.otel = providers

	return a, nil
}

// close 刷新遥测与日志
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentMem %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentMem - conversation and item memory for agents

Usage:
  agentmem <command> [options]

Commands:
  ping      Check the durable backend
  migrate   Create the SQL table used by the durable store
  list      List conversations in the durable store
  get       Print one conversation as JSON
  serve     Run the configured manager with background sync and /metrics
  version   Show version information
  help      Show this help message

Options (all commands):
  --config <path>   Path to configuration file (YAML)

Options for 'list':
  --limit <n>       Maximum number of conversations (default 20)

Options for 'get':
  --token <jwt>     Caller identity token, required when access control
                    is enabled (default $AGENTMEM_TOKEN)

Examples:
  agentmem ping --config /etc/agentmem/config.yaml
  agentmem list --limit 5
  agentmem get 6f1c2a4e-0b7d-4f7e-9a56-2d1f0e3c4b5a
  AGENTMEM_MEMORY_DURABLE_TABLE_BACKEND=postgres agentmem migrate`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
