// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package executor 并发执行 Plan 中的动作依赖图，并产出 ExecutionReport。

# 执行模型

每一轮（wave）选出所有依赖均已完成的待执行动作，在 errgroup 中并发运行，
并发度由 MaxParallelActions 限制；Wait 作为轮次屏障。动作失败后，其下游
动作保持 pending，永不启动。就绪集合为空而仍有未被失败依赖阻塞的 pending
动作时，这些动作被判定为依赖死锁（循环依赖或未知依赖），标记为 failed。

# 单个动作

  - before_action 钩子 → 带超时的工具调用 → after_action 钩子
  - ok=false、错误、panic 或超时均记为 failed，并触发 on_error 钩子
  - 可选的自动重试（internal/retry），次数记录在 RetryCount
  - 每个动作完成后按完成顺序回调 progress，传入报告快照

# 取消

CancelExecution 或父 context 取消后不再启动新动作；执行中的动作会运行
完毕并记录结果，但报告状态保持 cancelled，从未启动的动作标记为 cancelled。

# 钩子

钩子按类型（HookKind）以强类型函数注册，按注册顺序调用；钩子返回的错误
与 panic 只记录日志，不会中断执行。
*/
package executor
