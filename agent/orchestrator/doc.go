// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package orchestrator 驱动 Planner、Executor 与 Critic 组成的迭代工作流。

每次迭代依次为：规划 → 执行 → 评估。评分达到 MinSuccessScore 时工作流完成；
否则在允许自动改进且仍有迭代次数时，按改进策略（retry_failed / optimize_plan /
adaptive）构造新的规划上下文并重新规划。迭代耗尽时工作流以 failed 结束。

所有可预期的失败（工具失败、超时、依赖死锁、取消）都以数据形式记录在
WorkflowResult 中，ExecuteWorkflow 只在配置非法时返回 error。

活动工作流注册表归 Orchestrator 实例所有，多个实例互不影响。
*/
package orchestrator
