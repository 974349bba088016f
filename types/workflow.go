package types

import (
	"fmt"
	"time"
)

// ImprovementStrategy selects how a workflow re-plans after an unsuccessful iteration.
type ImprovementStrategy string

const (
	StrategyNone         ImprovementStrategy = "none"
	StrategyRetryFailed  ImprovementStrategy = "retry_failed"
	StrategyOptimizePlan ImprovementStrategy = "optimize_plan"
	StrategyAdaptive     ImprovementStrategy = "adaptive"
)

// Valid reports whether s is a known strategy.
func (s ImprovementStrategy) Valid() bool {
	switch s {
	case StrategyNone, StrategyRetryFailed, StrategyOptimizePlan, StrategyAdaptive:
		return true
	}
	return false
}

// WorkflowConfig configures one ExecuteWorkflow call.
type WorkflowConfig struct {
	MaxIterations       int                 `json:"max_iterations" yaml:"max_iterations" env:"MAX_ITERATIONS"`
	MinSuccessScore     float64             `json:"min_success_score" yaml:"min_success_score" env:"MIN_SUCCESS_SCORE"`
	AutoImprove         bool                `json:"auto_improve" yaml:"auto_improve" env:"AUTO_IMPROVE"`
	ImprovementStrategy ImprovementStrategy `json:"improvement_strategy" yaml:"improvement_strategy" env:"IMPROVEMENT_STRATEGY"`
}

// DefaultWorkflowConfig returns the defaults used when no override is given.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxIterations:       3,
		MinSuccessScore:     0.8,
		AutoImprove:         true,
		ImprovementStrategy: StrategyAdaptive,
	}
}

// Validate rejects configurations that are programming errors.
func (c WorkflowConfig) Validate() error {
	if c.MaxIterations <= 0 {
		return NewError(ErrInvalidConfig, fmt.Sprintf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.MinSuccessScore < 0 || c.MinSuccessScore > 1 {
		return NewError(ErrInvalidConfig, fmt.Sprintf("min_success_score must be within [0,1], got %v", c.MinSuccessScore))
	}
	if !c.ImprovementStrategy.Valid() {
		return NewError(ErrInvalidConfig, fmt.Sprintf("unknown improvement strategy %q", c.ImprovementStrategy))
	}
	return nil
}

// Iteration is one plan/execute/critique pass inside a workflow.
type Iteration struct {
	Number             int                 `json:"number"`
	Plan               *Plan               `json:"plan"`
	Execution          *ExecutionReport    `json:"execution"`
	Critic             *CriticReport       `json:"critic"`
	ImprovementApplied bool                `json:"improvement_applied"`
	Strategy           ImprovementStrategy `json:"strategy,omitempty"`
}

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// IsTerminal reports whether the workflow has finished.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// WorkflowResult aggregates every iteration of one ExecuteWorkflow call.
type WorkflowResult struct {
	WorkflowID        string         `json:"workflow_id"`
	OriginalGoal      string         `json:"original_goal"`
	Status            WorkflowStatus `json:"status"`
	Success           bool           `json:"success"`
	Iterations        []Iteration    `json:"iterations"`
	FinalScore        float64        `json:"final_score"`
	TotalImprovements int            `json:"total_improvements"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// LastIteration returns the most recent iteration, if any.
func (r *WorkflowResult) LastIteration() (*Iteration, bool) {
	if len(r.Iterations) == 0 {
		return nil, false
	}
	return &r.Iterations[len(r.Iterations)-1], true
}

// Clone returns a deep copy of the result. Plans are immutable and shared.
func (r *WorkflowResult) Clone() *WorkflowResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	c.Iterations = make([]Iteration, len(r.Iterations))
	for i, it := range r.Iterations {
		it.Execution = it.Execution.Clone()
		it.Critic = it.Critic.Clone()
		c.Iterations[i] = it
	}
	return &c
}
