// Copyright (c) Alice Authors.
// Licensed under the MIT License.

// Package config 提供 Alice Agent Core 的配置管理功能。
//
// 配置优先级为 默认值 → YAML 文件 → ALICE_* 环境变量，
// 并支持监听配置文件变更后重新加载（如日志级别）。
package config
