// Copyright (c) Alice Authors.
// Licensed under the MIT License.

// Package critic 评估一次计划执行的结果：给出 [0,1] 的总分、严重级别、
// 可读的洞察（insights）以及结构化问题（issues）与性能指标。
// Critic 是纯函数，相同输入总是得到完全相同的输出。
package critic
