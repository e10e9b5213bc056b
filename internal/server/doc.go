// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 `flowengine serve` 的 HTTP/HTTPS 服务生命周期。

Manager 封装 net/http.Server：Start 非阻塞启动（配置证书时使用
tlsutil 加固的 HTTPS），Run 阻塞至 ctx 取消后在 ShutdownTimeout
内优雅关闭，Errors 暴露异步服务错误。ConfigFrom 将 config.ServerConfig
转换为服务器配置。
*/
package server
