package api

import (
	"fmt"
	"time"

	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/types"
)

// =============================================================================
// 工作流类型
// =============================================================================

// WorkflowRequest 运行工作流请求
type WorkflowRequest struct {
	// 用户目标（自然语言）
	Goal string `json:"goal" example:"spela musik och visa kalendern"`
	// 传给规划器的上下文
	Context map[string]any `json:"context,omitempty"`
	// 覆盖默认工作流配置，未设置的字段保留默认值
	Config *WorkflowConfigOverride `json:"config,omitempty"`
	// Async 为 true 时立即返回 202 与工作流 ID
	Async bool `json:"async,omitempty"`
}

// WorkflowConfigOverride 部分覆盖 types.WorkflowConfig
type WorkflowConfigOverride struct {
	MaxIterations       *int                       `json:"max_iterations,omitempty"`
	MinSuccessScore     *float64                   `json:"min_success_score,omitempty"`
	AutoImprove         *bool                      `json:"auto_improve,omitempty"`
	ImprovementStrategy *types.ImprovementStrategy `json:"improvement_strategy,omitempty"`
}

// Apply 返回应用覆盖后的配置
func (o *WorkflowConfigOverride) Apply(base types.WorkflowConfig) types.WorkflowConfig {
	if o == nil {
		return base
	}
	if o.MaxIterations != nil {
		base.MaxIterations = *o.MaxIterations
	}
	if o.MinSuccessScore != nil {
		base.MinSuccessScore = *o.MinSuccessScore
	}
	if o.AutoImprove != nil {
		base.AutoImprove = *o.AutoImprove
	}
	if o.ImprovementStrategy != nil {
		base.ImprovementStrategy = *o.ImprovementStrategy
	}
	return base
}

// Validate 校验请求
func (r *WorkflowRequest) Validate() error {
	if r.Goal == "" {
		return types.NewError(types.ErrInvalidRequest, "goal is required")
	}
	if len(r.Goal) > MaxGoalLength {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("goal exceeds %d bytes", MaxGoalLength))
	}
	return nil
}

// MaxGoalLength 目标文本的最大字节数
const MaxGoalLength = 4096

// WorkflowAccepted 异步运行的响应
type WorkflowAccepted struct {
	WorkflowID string `json:"workflow_id"`
	StatusURL  string `json:"status_url"`
}

// WorkflowList 工作流列表
type WorkflowList struct {
	Active []string `json:"active"`
	Recent []string `json:"recent"`
}

// CancelResponse 取消结果
type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// =============================================================================
// 执行类型
// =============================================================================

// ExecutionList 计划执行列表
type ExecutionList struct {
	Active []string `json:"active"`
	Recent []string `json:"recent"`
}

// =============================================================================
// WebSocket 流类型
// =============================================================================

// StreamMessageType WebSocket 消息类型
type StreamMessageType string

const (
	StreamProgress StreamMessageType = "progress"
	StreamResult   StreamMessageType = "result"
	StreamError    StreamMessageType = "error"
)

// StreamMessage 服务端推送的单条消息
type StreamMessage struct {
	Type      StreamMessageType      `json:"type"`
	Progress  *orchestrator.Progress `json:"progress,omitempty"`
	Result    *types.WorkflowResult  `json:"result,omitempty"`
	Error     *types.Error           `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
