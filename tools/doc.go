// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package tools 提供 Agent Core 的工具调用层（Tool Invoker）。

# 概述

核心只依赖一个能力：ExecuteTool(name, args) -> {ok, message, data}。
本包通过 Registry 把具体的工具实现（邮件、日历、音乐、文件等，均在核心之外）
注册为统一的调用入口，并把每个工具的元数据（分类、关键词、回退工具）
以 Catalog 的形式提供给 Planner。

# 核心类型

  - ToolSpec  工具元数据（名称、分类、描述、关键词、默认参数、回退工具、限流）
  - Handler   工具实现函数，预期失败以 ok=false 返回，意外错误以 error 返回
  - Registry  并发安全的工具注册表，实现 types.ToolInvoker

# 主要能力

  - 统一失败语义：未注册工具、限流、handler error 与 panic 均转换为 ok=false
  - 工具级限流：基于 golang.org/x/time/rate 的令牌桶
  - 默认目录：DefaultCatalog 描述 email / calendar / music / files 四类工具
  - 内置工具：system.inspect 作为规划回退时的"无操作检查"
*/
package tools
