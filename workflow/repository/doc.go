// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package repository 提供工作流定义的持久化与访问控制。

子工作流节点通过 workflow.WorkflowRepository 契约读取被调用工作流的图结构并校验调用者权限。
本包提供两种实现：

  - MemoryRepository：进程内实现，支持从目录批量加载 JSON / YAML 工作流文件
  - GormRepository：基于 GORM 的实现，表 workflows / workflow_grants 与迁移脚本一致

访问规则：所有者、被授权用户可访问；Shared 工作流对所有人开放；调用者为空表示系统内部调用。
*/
package repository
