package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmem/internal/metrics"
)

// NewManager 根据配置构建记忆管理器。
// hybrid 会启动后台同步；Secure.Enabled 时外层包裹 SecureManager。
func NewManager(ctx context.Context, config Config, logger *zap.Logger, collector *metrics.Collector) (MemoryManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid memory config: %w", err)
	}

	var (
		mgr MemoryManager
		err error
	)
	switch config.Type.Normalize() {
	case TypeVolatile:
		mgr = NewVolatileStore(config.Volatile, logger, collector)
	case TypeDurable:
		mgr, err = NewDurableStore(ctx, config.Durable, logger, collector)
	case TypeHybrid:
		var durable *DurableStore
		durable, err = NewDurableStore(ctx, config.Durable, logger, collector)
		if err == nil {
			hybrid := NewHybridManager(NewVolatileStore(config.Volatile, logger, collector), durable, config.Hybrid, logger, collector)
			hybrid.Start()
			mgr = hybrid
		}
	}
	if err != nil {
		return nil, err
	}

	if !config.Secure.Enabled {
		logger.Info("memory manager created", zap.String("type", string(config.Type.Normalize())))
		return mgr, nil
	}
	secure, err := NewSecureManager(mgr, config.Secure, logger, collector)
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	logger.Info("memory manager created",
		zap.String("type", string(config.Type.Normalize())),
		zap.Bool("secure", true),
		zap.Bool("access_control", config.Secure.AccessControl.Enabled))
	return secure, nil
}
