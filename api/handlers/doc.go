// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Alice Agent Core HTTP API 的请求处理器实现。

# 概述

handlers 包把编排器与执行器暴露为 HTTP 端点，负责请求解码、
参数校验、错误码到 HTTP 状态码的映射以及统一的 JSON 响应格式。
所有处理器均为标准 net/http Handler，路由使用 Go 1.22 的
ServeMux 模式（r.PathValue）。

# 核心类型

  - WorkflowHandler   运行（同步/异步）、列出、查询与取消工作流
  - StreamHandler     通过 WebSocket 运行工作流并推送进度
  - ExecutionHandler  查询、取消计划执行，重试失败动作
  - HealthHandler     /health、/ready、/version
  - Response          统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter    包装 http.ResponseWriter 以记录状态码与字节数

# 错误映射

types.ErrorCode 通过 mapErrorCodeToHTTPStatus 映射为 HTTP 状态码：
校验错误 400，未找到 404，PLAN_ACTIVE 409，限流 429，超时 504，
工具失败 502，其余 500。
*/
package handlers
