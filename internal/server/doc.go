// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
包 server 托管 http.Server 的生命周期：非阻塞启动、关闭前 drain 回调
与优雅关闭。

Alice 的 API 端口与 metrics 端口各由一个 Manager 托管。API 端口注册
一个 drain 回调取消所有运行中的工作流，使同步请求与 WebSocket 流在
ShutdownTimeout 内结束。信号处理不在本包内完成，调用方通过 ctx 传入。
*/
package server
