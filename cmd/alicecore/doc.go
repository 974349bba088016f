// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Command alicecore 是 Alice Agent Core 的命令行入口。

# 子命令

  - serve   启动 HTTP/WebSocket API 与 Prometheus 指标端口
  - run     在进程内运行一次工作流并打印结果
  - tools   列出规划器可用的工具目录
  - events  订阅 Redis 事件频道，按工作流 id 或事件类型过滤，逐行输出 JSON
  - version 显示构建信息

# 配置

所有子命令共享 --config 指定的 YAML 文件，ALICE_* 环境变量覆盖文件值，
例如 ALICE_SERVER_HTTP_PORT=9000。serve 模式下配置文件变更会热更新日志级别。

# 中间件

serve 的请求依次经过 Recovery、RequestID、SecurityHeaders、OTelTracing、
MetricsMiddleware、RequestLogger、CORS，按配置再经过 RateLimiter 与 JWTAuth。
*/
package main
