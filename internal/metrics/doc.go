// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖工作流运行、
节点执行、模型调用、审批等待、HTTP 与数据库连接。

# 核心类型

  - Collector：实现 workflow.MetricsRecorder 与 approval.Observer，
    使用 promauto 注册，按 namespace 隔离。
  - InstrumentedProvider：包装 llm.Provider，记录调用耗时、状态与 Token 用量。

# 指标

  - workflow_runs_total / workflow_run_duration_seconds：按最终状态分组
  - workflow_node_executions_total / workflow_node_duration_seconds：按节点类型分组
  - workflow_node_retries_total：节点重试次数
  - workflow_pending_approvals / workflow_approvals_total：审批等待与结果
  - llm_requests_total / llm_request_duration_seconds / llm_tokens_used_total
  - http_requests_total / http_request_duration_seconds：状态码归类为 2xx/3xx/4xx/5xx
  - db_connections_open / db_connections_idle
*/
package metrics
