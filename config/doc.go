// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 FlowEngine 的配置加载。
//
// 配置按 默认值 → YAML 文件 → 环境变量（默认前缀 FLOWENGINE）依次覆盖，
// 环境变量名由 env 标签逐级拼接，例如 FLOWENGINE_ENGINE_RUN_TIMEOUT。
// YAML 文件中的 ${VAR} 在解析前展开，密钥可以只放在环境中。
package config
