// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 agentmem 运维命令行入口。

# 概述

cmd/agentmem 直接操作配置的持久存储，用于连通性检查、SQL 建表、
会话巡检，以及以常驻方式运行混合存储的后台同步。配置通过
--config 指定的 YAML 文件与 AGENTMEM_ 前缀的环境变量加载。

# 子命令

  - ping：对持久后端执行健康检查
  - migrate：为 postgres / mysql / sqlite 后端创建表
  - list [--limit n]：按 JSON 输出会话摘要
  - get <id>：输出单个会话；启用加密时自动解密
  - serve [--addr]：运行 NewManager 构建的存储，暴露 /metrics 与 /healthz，
    收到 SIGINT/SIGTERM 后关闭并刷新未同步的会话
  - version：版本信息，Version、BuildTime、GitCommit 通过 ldflags 注入
*/
package main
