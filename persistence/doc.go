// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供持久化记忆层所依赖的远程键值表抽象及多后端实现。

# 概述

持久化记忆（DurableStore）把会话、条目和标签索引作为整块值写入同一个
键空间（CONV#id、ITEM#key、TAG#tag#key）。本包只负责"按键读写 + 前缀扫描 +
批量写入"，不理解记录内容，也不做重试：任何后端错误原样返回，由上层
统一映射为 UNAVAILABLE。

# 核心接口

  - Table: Get / Put / Delete / Scan / BatchWrite，外加 Store 的 Close / Ping。
  - Record: 扫描与批量写入使用的键值对。
  - TableConfig: 后端类型选择与各后端连接参数。

# 后端实现

  - Memory: 进程内有序表，适合开发与测试，重启后数据丢失。
  - Redis: 基于 go-redis，SCAN MATCH 前缀扫描，MULTI/EXEC 批量写入。
  - Mongo: 基于 mongo-driver v2，_id 即键，有序 BulkWrite 批量写入。
  - SQL: 基于 GORM（postgres / mysql / sqlite），事务批量写入，
    支持 AutoMigrate 建表。

# 使用方式

	table, err := persistence.NewTable(ctx, config, logger)
*/
package persistence
