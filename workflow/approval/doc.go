// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package approval 提供审批节点使用的人工审批信号通道。

# 概述

Manager 为每个等待中的审批节点登记一个响应通道，Wait 阻塞直到收到外部
信号、超时或上下文取消；Resolve 投递 approved / rejected 决定。
HTTPHandler 通过 HTTP 暴露待处理列表与信号投递接口。

# 核心类型

  - Manager：等待通道管理，超时返回 ErrTimeout
  - Store / MemoryStore：审批记录存储
  - HTTPHandler：GET 列出待处理审批，POST 投递审批结果
*/
package approval
