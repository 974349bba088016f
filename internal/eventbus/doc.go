// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package eventbus 发布工作流生命周期事件。

# 核心类型

  - Event：一次阶段变化（规划、执行、评估、完成）的快照。
  - Publisher：事件发布接口，Orchestrator 只依赖它。
  - LocalBus：进程内总线，异步分发给订阅者，通道满时丢弃事件。
  - RedisBus：通过 Redis Pub/Sub 将事件广播给其他进程。
  - Multi：把同一事件扇出到多个 Publisher。

发布失败只记录日志，不影响工作流本身。
*/
package eventbus
