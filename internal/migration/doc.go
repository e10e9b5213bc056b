// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理 flowengine 持久化表的 Schema 迁移，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 迁移内容

每个方言内嵌两组 SQL：

  - 000001_workflow_kv：SQL 存储后端使用的 workflow_kv 表（节点命名空间 KV）。
  - 000002_workflows：工作流定义表 workflows 与共享授权表 workflow_grants。

表结构与 storage.SQLStore、repository.GormRepository 的 GORM 模型保持一致，
生产环境可关闭 AutoMigrate，改由 `flowengine migrate up` 执行。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info。
  - Config：数据库类型、连接 URL、迁移表名、锁超时；MigrationsPath 可指向磁盘目录替代内嵌文件。
  - CLI：面向终端的格式化输出。
  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig / NewMigratorFromURL：工厂函数。

SQLite 使用纯 Go 驱动（驱动名 "sqlite"），无需 CGO。
*/
package migration
