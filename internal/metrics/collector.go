// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// 操作结果标签
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil 的 *Collector 上所有记录方法都是空操作。
type Collector struct {
	// 存储操作指标
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// 同步指标
	syncCyclesTotal        *prometheus.CounterVec
	syncConversationsTotal *prometheus.CounterVec
	dirtyConversations     prometheus.Gauge

	// 进程内存储规模
	volatileEntries *prometheus.GaugeVec

	// 淘汰与过期
	evictionsTotal    *prometheus.CounterVec
	itemsExpiredTotal *prometheus.CounterVec

	// 安全指标
	decryptionFailures prometheus.Counter
	accessDenied       *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 存储操作指标
	c.operationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Total number of memory store operations",
		},
		[]string{"store", "operation", "status"},
	)

	c.operationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_operation_duration_seconds",
			Help:      "Memory store operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"store", "operation"},
	)

	// 同步指标
	c.syncCyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_sync_cycles_total",
			Help:      "Total number of volatile to durable sync cycles",
		},
		[]string{"status"},
	)

	c.syncConversationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_sync_conversations_total",
			Help:      "Total number of conversations reconciled by sync",
		},
		[]string{"status"},
	)

	c.dirtyConversations = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_dirty_conversations",
			Help:      "Number of conversations waiting for sync",
		},
	)

	c.volatileEntries = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_volatile_entries",
			Help:      "Current size of the volatile store",
		},
		[]string{"kind"}, // kind: conversation, message, item
	)

	// 淘汰与过期
	c.evictionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evictions_total",
			Help:      "Total number of evicted conversations and trimmed messages",
		},
		[]string{"kind"}, // kind: conversation, message
	)

	c.itemsExpiredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_items_expired_total",
			Help:      "Total number of expired items purged on read",
		},
		[]string{"store"},
	)

	// 安全指标
	c.decryptionFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_decryption_failures_total",
			Help:      "Total number of records returned undecrypted",
		},
	)

	c.accessDenied = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_access_denied_total",
			Help:      "Total number of operations rejected by the access policy",
		},
		[]string{"operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 存储操作指标
// =============================================================================

// RecordOperation 记录一次存储操作
func (c *Collector) RecordOperation(store, operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.operationsTotal.WithLabelValues(store, operation, status(err)).Inc()
	c.operationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔄 同步指标
// =============================================================================

// RecordSyncCycle 记录一次同步周期及其结果
func (c *Collector) RecordSyncCycle(synced, failed int) {
	if c == nil {
		return
	}
	if failed > 0 {
		c.syncCyclesTotal.WithLabelValues(StatusError).Inc()
	} else {
		c.syncCyclesTotal.WithLabelValues(StatusSuccess).Inc()
	}
	c.syncConversationsTotal.WithLabelValues(StatusSuccess).Add(float64(synced))
	c.syncConversationsTotal.WithLabelValues(StatusError).Add(float64(failed))
}

// SetDirtyConversations 设置待同步会话数
func (c *Collector) SetDirtyConversations(n int) {
	if c == nil {
		return
	}
	c.dirtyConversations.Set(float64(n))
}

// SetVolatileEntries 设置进程内存储的当前规模
func (c *Collector) SetVolatileEntries(conversations, messages, items int) {
	if c == nil {
		return
	}
	c.volatileEntries.WithLabelValues("conversation").Set(float64(conversations))
	c.volatileEntries.WithLabelValues("message").Set(float64(messages))
	c.volatileEntries.WithLabelValues("item").Set(float64(items))
}

// =============================================================================
// 🧹 淘汰与过期
// =============================================================================

// RecordEviction 记录淘汰，kind 为 conversation 或 message
func (c *Collector) RecordEviction(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.evictionsTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordItemsExpired 记录读路径清理的过期条目
func (c *Collector) RecordItemsExpired(store string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.itemsExpiredTotal.WithLabelValues(store).Add(float64(n))
}

// =============================================================================
// 🔐 安全指标
// =============================================================================

// RecordDecryptionFailure 记录解密失败
func (c *Collector) RecordDecryptionFailure() {
	if c == nil {
		return
	}
	c.decryptionFailures.Inc()
}

// RecordAccessDenied 记录被拒绝的操作
func (c *Collector) RecordAccessDenied(operation string) {
	if c == nil {
		return
	}
	c.accessDenied.WithLabelValues(operation).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
