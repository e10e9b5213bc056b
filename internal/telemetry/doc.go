// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为工作流引擎提供
// TracerProvider 与 MeterProvider。禁用时不创建导出器，Tracer 退化为全局 noop。
package telemetry
