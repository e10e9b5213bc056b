// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package tokenizer 为 LLM 节点估算 token 用量。
//
// 提供方未返回 usage 时，引擎用这里的计数补齐运行记录中的
// prompt/completion token 数。OpenAI 系列模型使用 tiktoken 精确计数，
// 其余模型退回按字符类别估算的 Estimator。
package tokenizer
