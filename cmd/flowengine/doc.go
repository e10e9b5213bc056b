// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 flowengine 命令行与服务端入口。

# 概述

cmd/flowengine 按配置装配工作流引擎及其协作者（Storage 后端、工作流仓库、
审批管理器、内置工具、LLM Provider、指标与追踪），并提供以下子命令：

  - run       执行一次工作流定义（文件或仓库中的 id），结果以 JSON 输出到 stdout
  - validate  加载并校验定义，校验失败时退出码为 2
  - serve     启动 HTTP 服务
  - migrate   数据库迁移（up / down / steps / status / goto / force / reset）
  - version   版本信息

# HTTP 接口

  - GET  /healthz、/version、/metrics
  - GET/POST /api/v1/approvals         列出待处理审批、投递审批结果
  - GET  /api/v1/approvals/feed         WebSocket 审批推送
  - POST /api/v1/workflows/{id}/runs    同步运行仓库中的工作流
  - GET  /api/v1/runs、/api/v1/runs/{runId}

中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
MetricsMiddleware、OTelTracing、CORS、RateLimiter（按 IP）、
JWTAuth（HS256 / RS256，身份写入 context 供访问控制与审批使用）。

配置了 workflows.watch 时，DirWatcher 轮询定义目录并同步到仓库。
*/
package main
