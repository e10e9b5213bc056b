// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 storage 为工作流 Storage 节点提供键值存储后端。

# 概述

Store 接口定义 get / set / delete / list 四种操作，值以 JSON 编码保存。
键由 ScopeKey 按工作流隔离，形如 "<workflowID>:<key>"。

# 后端

  - MemoryStore: 进程内存储，过期键惰性清理，适用于测试与单机部署
  - RedisStore: 基于 go-redis，支持原生 TTL，List 使用 SCAN
  - SQLStore: 基于 GORM，兼容 Postgres / MySQL / SQLite，表名 workflow_kv
*/
package storage
