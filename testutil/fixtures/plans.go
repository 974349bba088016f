// 预定义的测试计划。每次调用返回新的 Plan，测试之间互不共享。
package fixtures

import (
	"fmt"
	"time"

	"github.com/alicevoice/agentcore/types"
)

// NewAction 构造一个动作，tool 为空时使用 "tool.<id>"
func NewAction(id, tool string, deps ...string) types.Action {
	if tool == "" {
		tool = "tool." + id
	}
	return types.Action{
		StepID:    id,
		Tool:      tool,
		Args:      map[string]any{"step": id},
		Rationale: "fixture action " + id,
		DependsOn: deps,
	}
}

// NewPlan 用给定动作构造计划
func NewPlan(id string, actions ...types.Action) *types.Plan {
	return &types.Plan{
		PlanID:          id,
		Goal:            "fixture goal " + id,
		Actions:         actions,
		CreatedAt:       time.Now(),
		ConfidenceScore: 0.9,
	}
}

// DiamondPlan 返回 A、B 无依赖，C 依赖 A 与 B 的计划
func DiamondPlan(id string) *types.Plan {
	return NewPlan(id,
		NewAction("A", "tool.a"),
		NewAction("B", "tool.b"),
		NewAction("C", "tool.c", "A", "B"),
	)
}

// CyclePlan 返回 X↔Y 循环依赖，外加一个独立动作 Z 的计划
func CyclePlan(id string) *types.Plan {
	return NewPlan(id,
		NewAction("X", "tool.x", "Y"),
		NewAction("Y", "tool.y", "X"),
		NewAction("Z", "tool.z"),
	)
}

// ChainPlan 返回长度为 n 的线性依赖链 s1 <- s2 <- ... <- sn
func ChainPlan(id string, n int) *types.Plan {
	actions := make([]types.Action, 0, n)
	for i := 1; i <= n; i++ {
		a := NewAction(fmt.Sprintf("s%d", i), "tool.chain")
		if i > 1 {
			a.DependsOn = []string{fmt.Sprintf("s%d", i-1)}
		}
		actions = append(actions, a)
	}
	return NewPlan(id, actions...)
}

// WidePlan 返回 n 个互相独立的动作
func WidePlan(id string, n int) *types.Plan {
	actions := make([]types.Action, 0, n)
	for i := 1; i <= n; i++ {
		actions = append(actions, NewAction(fmt.Sprintf("w%d", i), "tool.wide"))
	}
	return NewPlan(id, actions...)
}
