// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工具调用、
计划执行与工作流四个维度。

# 概述

Collector 通过 promauto 注册所有指标，按 namespace 隔离。它同时实现
executor.MetricsRecorder、orchestrator.MetricsRecorder 与 tools.Metrics，
由 cmd/alicecore 在启动时注入各组件。

# 主要指标

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工具：调用总数（按 tool/result 分组）与调用耗时。
  - 动作与计划：按状态计数、耗时分布、重试次数。
  - 工作流：按终态计数、迭代次数分布、耗时分布与活动工作流 Gauge。
  - 限流：HTTP 层被拒绝的请求数。
*/
package metrics
