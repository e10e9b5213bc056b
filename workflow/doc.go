// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供类型化数据流工作流引擎。

# 概述

工作流是由节点和边组成的有向图。每个节点声明自己的输出 Schema，下游节点
只能通过 SourceKey（节点 ID + 路径）引用上游输出，这是节点之间唯一的数据通道。
Engine 先校验图结构，再由驱动器按依赖顺序调度节点执行。

# 核心类型

  - Node / NodeBase：封闭的节点变体集合（14 种可执行节点 + note 注释节点）
  - Graph / Edge：不可变的图描述；Condition 与 Loop 通过 sourceHandle 选择出边
  - Schema / SourceKey：输出 Schema 与跨节点引用
  - RuntimeState：单次运行的上下文，含输出表、审计输入表、执行历史
  - Engine：Validate / Run / RunWorkflow 入口
  - Dependencies：模型、工具、子工作流仓库、存储、审批等外部协作者

# 执行语义

  - 节点在所有图内入边都已决定后就绪；至少一条入边为 live 时执行，否则跳过
  - Condition 只激活获胜分支的出边；Loop 的 "done" 出边在循环结束后继续，
    其余出边构成循环体，每次迭代在独立的状态分叉中执行
  - Output 节点执行后不再调度新节点；无法到达 Output 时报告 StallError
  - 启用 errorHandling 的节点由 withRetry 装饰：重试耗尽后按 onFailure
    停止或以 fallbackValue 继续；Condition 的 fallbackValue 需带 "branch"
    字段指定继续的分支，否则所有出边被剪除，停滞错误会列出被跳过的节点

# 错误

ValidationError 在执行前拒绝图；RunError 指明失败节点；超时、停滞等
分类通过 types.Error 的错误码区分，可用 IsTimeout / IsStall / IsValidation 判断。
*/
package workflow
