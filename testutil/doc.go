// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 FlowEngine 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - TestContext: 随测试结束取消、带整体超时的运行上下文

# 子包

  - testutil/mocks: MockProvider（模型 Provider）、MockToolManager（托管工具）、
    MockMultiAgentRunner（多 Agent 对话），均以 With* 链式配置并支持错误注入
  - testutil/fixtures: 模型响应工厂与工作流图构造简写（Input / Output /
    Template / Ref / Map / Edge / Linear 等）

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
	engine := workflow.NewEngine(workflow.Dependencies{Model: provider})
	res, err := engine.Run(ctx, fixtures.EchoGraph(), map[string]any{"message": "hi"}, workflow.RunOptions{})
*/
package testutil
