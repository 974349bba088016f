// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package types 提供 Alice Agent Core 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 planner、executor、critic、
orchestrator 以及 api 层提供统一的数据契约，以避免循环依赖。

# 核心类型

  - Action / Plan           规划产物：带依赖关系的工具调用集合
  - ActionResult            单个动作的执行结果（状态、错误、耗时、重试次数）
  - ExecutionReport         一次计划执行的可变记录（仅由 Executor 修改）
  - CriticReport / Issue    执行评估结果（分数、级别、洞察、指标）
  - WorkflowConfig          单次工作流调用的迭代与改进策略配置
  - Iteration / WorkflowResult  Orchestrator 的迭代聚合结果
  - ToolInvoker / ToolResult    与外部工具实现之间唯一的调用契约
  - Error / ErrorCode       结构化错误体系

# 主要能力

  - 快照：ExecutionReport.Clone / WorkflowResult.Clone 深拷贝，供并发读取
  - 进度：ExecutionReport.ProgressPercent
  - 校验：WorkflowConfig.Validate
  - Context 传播：WithRequestID / WithUserID / WithWorkflowID
*/
package types
