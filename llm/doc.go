// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 llm 提供工作流模型节点使用的大语言模型接入层。

# 核心接口

  - [Provider]：统一的补全接口，超时与取消通过 ctx 传递
  - [ResilientProvider]：为任意 Provider 增加重试与熔断的装饰器

# 生成辅助

[GenerateText]、[GenerateObject] 与 [GenerateToolCall] 分别对应
文本回答、结构化 JSON 输出与强制工具调用三种模式，
对应工作流中 LLM 节点与工具节点的参数生成。

# 子包

  - circuitbreaker：熔断器
  - tokenizer：Token 计数，未返回用量时用于估算
  - tools：进程内工具注册表与托管工具调用接口
  - providers/langchain：基于 langchaingo 的 Provider 实现
*/
package llm
