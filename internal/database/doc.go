// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 管理 SQL 表后端（postgres / mysql / sqlite）的 gorm 连接池。

# 核心类型

  - PoolManager：持有 gorm DB 与底层 sql.DB，提供 DB、Ping、Stats、
    WithTransaction、Close。配置 HealthCheckInterval 后在后台定时探活，
    最近一次结果通过 Health 读取。
  - PoolConfig：连接数上限、连接生命周期与探活间隔，Validate 校验取值。
  - PoolStats：sql.DBStats 的 JSON 友好形式，附带 HealthStatus，
    agentmem ping 对 SQL 后端输出它。

persistence.SQLTable 的 BatchWrite 通过 WithTransaction 在同一事务中
完成删除与写入。
*/
package database
