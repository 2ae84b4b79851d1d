// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的记忆子系统指标采集能力，覆盖
存储操作、后台同步、淘汰过期与安全四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto.With
注册到调用方提供的 Registerer（为 nil 时使用默认 Registry）。所有指标按
namespace 隔离。nil 的 *Collector 是合法值，所有记录方法都是空操作，
因此存储组件可以在未配置指标时直接调用。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 指标，按业务域分组管理。

# 主要能力

  - 操作指标：memory_operations_total 与 memory_operation_duration_seconds，
    按 store/operation/status 分组。
  - 同步指标：同步周期数、同步会话数与待同步会话 Gauge。
  - 淘汰过期：会话淘汰、消息裁剪与过期条目清理计数。
  - 安全指标：解密失败与访问拒绝计数。
*/
package metrics
