// Copyright (c) Alice Authors.
// Licensed under the MIT License.

// Package api 定义 Alice Agent Core HTTP API 的请求与响应结构。
//
// # API Overview
//
//   - POST   /api/v1/workflows                      运行工作流（同步，或 async=true 时立即返回 ID）
//   - GET    /api/v1/workflows                      运行中与最近结束的工作流
//   - GET    /api/v1/workflows/{id}                 工作流快照
//   - DELETE /api/v1/workflows/{id}                 取消工作流
//   - GET    /api/v1/workflows/stream               WebSocket 进度流
//   - GET    /api/v1/executions                     运行中与最近的计划执行
//   - GET    /api/v1/executions/{plan_id}           执行报告
//   - DELETE /api/v1/executions/{plan_id}           取消计划执行
//   - POST   /api/v1/executions/{plan_id}/actions/{action_id}/retry
//   - GET    /api/v1/tools                          工具目录
//   - GET    /health, /ready, /version
//
// # Authentication
//
// 启用鉴权时，/api/v1 下的端点需要 JWT Bearer 令牌：
//
//	Authorization: Bearer <token>
package api
