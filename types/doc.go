// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentmem 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 persistence、memory、
conversation 等上层模块提供统一的数据模型与错误码，以避免循环依赖。

# 核心类型

  - Conversation：有序、只追加的消息序列 + 元数据
  - Message：ID、Role、Content、毫秒时间戳、可选元数据
  - MessageInput：调用方提供的消息内容（ID 与时间戳由存储分配）
  - MessageQuery：GetMessages 的时间窗口与数量过滤
  - Item：带标签、可过期（TTL 为秒级绝对时间戳）的键值记录
  - Role：system / user / assistant / tool

# 错误处理

  - Error / ErrorCode：结构化错误（Code、Message、Retryable、Cause）
  - NOT_FOUND / UNAVAILABLE / ACCESS_DENIED / DECRYPTION_FAILED 等错误码
  - IsNotFound / IsUnavailable / IsAccessDenied 基于 errors.As 判断
*/
package types
