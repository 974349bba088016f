package eventbus

import (
	"context"
	"errors"
	"time"
)

// Type 事件类型
type Type string

const (
	TypeWorkflowStarted   Type = "workflow_started"
	TypePlanningCompleted Type = "planning_completed"
	TypeExecutionDone     Type = "execution_completed"
	TypeEvaluationDone    Type = "evaluation_completed"
	TypeImprovement       Type = "improvement_applied"
	TypeWorkflowFinished  Type = "workflow_finished"
)

// Event is a workflow phase change.
type Event struct {
	Type       Type           `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	PlanID     string         `json:"plan_id,omitempty"`
	Iteration  int            `json:"iteration,omitempty"`
	Message    string         `json:"message"`
	Score      float64        `json:"score,omitempty"`
	Status     string         `json:"status,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Handler 事件处理器
type Handler func(Event)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("eventbus: closed")

// Multi fans one event out to several publishers and joins their errors.
type Multi []Publisher

// Publish 实现 Publisher
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
