// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 是任意 memory.MemoryManager 之上的会话便捷层。

# 主要能力

  - StartConversation 创建会话并返回 id
  - AddSystemMessage / AddUserMessage / AddAssistantMessage /
    AddToolMessage 按角色追加消息
  - GetConversationHistory 按时间范围与条数读取历史
  - GetFormattedHistory 把规范角色映射为目标提供商的角色词汇：
    openai 保持不变；anthropic 把 tool 归入 assistant；
    gemini 把 system 映射为 user，assistant 与 tool 映射为 model
  - SummarizeConversation 拼接最近 5 条消息并截断，不调用模型
*/
package conversation
