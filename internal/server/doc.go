// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供运维 HTTP 端点的生命周期管理。

# 概述

Manager 封装 net/http.Server，挂载两个端点：

  - /metrics：Prometheus 抓取端点（promhttp）
  - /healthz：调用 HealthFunc 检查持久存储，失败返回 503

Start 非阻塞启动，Shutdown 在配置的超时内排空连接，
Errors() 返回异步错误通道，供调用方在信号等待时一并监听。
*/
package server
