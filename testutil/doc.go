// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 Agent Core 测试的共享工具和辅助函数。

# 概述

testutil 包为各组件的单元测试提供统一的辅助能力，避免各包重复实现
相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitForChannel，支持超时轮询等待条件满足

# 子包

  - testutil/mocks: MockToolInvoker，可脚本化的工具调用模拟，
    记录调用顺序、时间与并发峰值
  - testutil/fixtures: 预定义的计划（菱形依赖、循环依赖、长链等）
*/
package testutil
