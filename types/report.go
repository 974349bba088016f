package types

import "time"

// ActionStatus is the lifecycle state of a single action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

// IsTerminal reports whether the action will not change state again
// during the current run.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionCompleted || s == ActionFailed || s == ActionCancelled
}

// ErrorKind classifies why an action did not complete.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindTool       ErrorKind = "tool_failure"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindDeadlock   ErrorKind = "dependency_deadlock"
	ErrorKindCancelled  ErrorKind = "cancelled"
	ErrorKindNotFound   ErrorKind = "tool_not_found"
	ErrorKindValidation ErrorKind = "validation"
)

// ActionResult records the outcome of one action.
type ActionResult struct {
	ActionID        string       `json:"action_id"`
	Status          ActionStatus `json:"status"`
	Result          any          `json:"result,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	ErrorKind       ErrorKind    `json:"error_kind,omitempty"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
	RetryCount      int          `json:"retry_count"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a copy of the result. Result payloads are shared.
func (r *ActionResult) Clone() *ActionResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ExecutionStatus is the lifecycle state of a plan execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution has finished.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// ExecutionReport is the executor's record of one plan run.
// Only the executor that owns the run mutates it; everyone else works on clones.
type ExecutionReport struct {
	PlanID           string                   `json:"plan_id"`
	Goal             string                   `json:"goal"`
	Status           ExecutionStatus          `json:"status"`
	StartedAt        time.Time                `json:"started_at"`
	CompletedAt      *time.Time               `json:"completed_at,omitempty"`
	TotalActions     int                      `json:"total_actions"`
	CompletedActions int                      `json:"completed_actions"`
	FailedActions    int                      `json:"failed_actions"`
	Results          map[string]*ActionResult `json:"results"`
}

// NewExecutionReport creates a pending report with a pending result for every action.
func NewExecutionReport(plan *Plan) *ExecutionReport {
	r := &ExecutionReport{
		PlanID:    plan.PlanID,
		Goal:      plan.Goal,
		Status:    ExecutionPending,
		StartedAt: time.Now(),
		Results:   make(map[string]*ActionResult, len(plan.Actions)),
	}
	for _, a := range plan.Actions {
		if _, dup := r.Results[a.StepID]; dup {
			continue
		}
		r.Results[a.StepID] = &ActionResult{ActionID: a.StepID, Status: ActionPending}
	}
	r.TotalActions = len(r.Results)
	return r
}

// ProgressPercent returns completed/total*100, or 0 for an empty plan.
func (r *ExecutionReport) ProgressPercent() float64 {
	if r.TotalActions == 0 {
		return 0
	}
	return float64(r.CompletedActions) / float64(r.TotalActions) * 100
}

// CountStatus counts results in the given status.
func (r *ExecutionReport) CountStatus(status ActionStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Clone returns a deep copy suitable for handing to other goroutines.
func (r *ExecutionReport) Clone() *ExecutionReport {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	c.Results = make(map[string]*ActionResult, len(r.Results))
	for id, res := range r.Results {
		c.Results[id] = res.Clone()
	}
	return &c
}
