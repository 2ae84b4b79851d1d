// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 agentmem 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，
    自动注册 Cleanup 防止泄漏
  - 日志辅助: TestLogger 将 zap 日志输出到 t.Log
  - 断言工具: AssertMessagesEqual / AssertJSONEqual /
    AssertContains / AssertNotContains
  - 异步断言: AssertEventuallyTrue / WaitFor，用于后台同步场景
  - 时钟: FakeClock 可手动推进，驱动 TTL 过期与淘汰顺序
  - 数据工具: MustJSON / MessageContents / ItemKeys / UserInput

# 子包

  - testutil/mocks: MockTable（可注入错误的远端表）与
    MockMemoryManager（记录调用的 MemoryManager 实现）。
*/
package testutil
