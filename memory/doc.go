// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 memory 提供分层的会话与条目记忆存储。

# 概述

所有存储变体实现同一个 MemoryManager 契约：会话（只追加的消息序列）
与条目（带标签、可过期的键值）。读取不存在的记录返回 nil 而非错误；
向未知会话追加消息返回 NOT_FOUND。

# 存储变体

  - VolatileStore: 进程内有界存储。会话数达到上限时淘汰 createdAt 最早的
    会话，每个会话只保留最近 MaxMessages 条消息，过期条目在读取时清理。
  - DurableStore: 基于 persistence.Table 的远端存储，键空间为
    CONV#id / ITEM#key / TAG#tag#key。后端错误统一映射为 UNAVAILABLE，
    不做重试。
  - HybridManager: 会话写入进程内存储并记入脏集合，由后台循环或
    ForceSyncAll 同步到持久层；条目双写。被淘汰但未同步的数据保留在
    脏集合中直到同步成功。
  - SecureManager: 装饰任意 MemoryManager，提供基于角色的访问控制、
    AES-256-GCM 加密与读取时脱敏。

# 使用方式

	mgr, err := memory.NewManager(ctx, memory.DefaultConfig(), logger, nil)
	if err != nil {
		return err
	}
	defer mgr.Close()

	conv, _ := mgr.CreateConversation(ctx, nil)
	_, err = mgr.AddMessage(ctx, conv.ID, types.MessageInput{Role: types.RoleUser, Content: "hi"})
*/
package memory
