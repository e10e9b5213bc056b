// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 负责打开工作流存储所用的数据库，并管理连接池。

# 核心类型

  - Open / Dialector：按 database.driver 选择 postgres、mysql 或
    sqlite（glebarez 纯 Go 实现）方言并打开 GORM 连接。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Ping、Stats、Close，
    后台定时探活并通过 StatsReporter 上报连接数。
  - WithTransaction / WithTransactionRetry：事务执行，瞬时错误
    （死锁、序列化失败、锁超时）按 internal/retry 的指数退避重试。
*/
package database
