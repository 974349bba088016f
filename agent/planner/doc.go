// Copyright (c) Alice Authors.
// Licensed under the MIT License.

/*
Package planner 把自然语言目标转换为带依赖关系的工具动作计划（Plan）。

# 概述

Planner 基于工具目录（tools.ToolSpec）进行关键词匹配：目标中的词语
（瑞典语与英语，大小写与变音符号不敏感）先选出工具分类，再在分类内
选出具体工具。同一分类内的动作按目录顺序串联；不同分类默认相互独立，
当目标包含 "sedan"、"därefter"、"then"、"after that" 等顺序词时按出现
顺序串联。

没有任何分类匹配时，生成单个 system.inspect 检查动作，保证计划永不为空。

# 改进上下文

Orchestrator 在重新规划时通过 context 传入改进信息：

  - improvement_strategy  retry_failed 仅保留失败工具；optimize_plan 替换或标注失败工具
  - failed_tools / avoid_tools  Critic 报告中的失败工具
  - previous_insights  上一轮的洞察
  - iteration  当前迭代序号

Planner 是无状态的纯函数：每次调用都生成全新的 Plan，不执行任何工具。
*/
package planner
