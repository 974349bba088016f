package types

// CriticLevel classifies the overall outcome of an execution.
type CriticLevel string

const (
	LevelSuccess  CriticLevel = "success"
	LevelWarning  CriticLevel = "warning"
	LevelError    CriticLevel = "error"
	LevelCritical CriticLevel = "critical"
)

// IssueKind is the machine-readable category of a critic finding.
type IssueKind string

const (
	IssueToolFailure IssueKind = "tool_failure"
	IssueTimeout     IssueKind = "timeout"
	IssueDeadlock    IssueKind = "dependency_deadlock"
	IssueBlocked     IssueKind = "blocked"
	IssueCancelled   IssueKind = "cancelled"
	IssueNotFound    IssueKind = "tool_not_found"
	IssueEmptyPlan   IssueKind = "empty_plan"
)

// Issue is the structured counterpart of an insight line.
type Issue struct {
	ActionID string    `json:"action_id,omitempty"`
	Tool     string    `json:"tool,omitempty"`
	Kind     IssueKind `json:"kind"`
	Message  string    `json:"message"`
}

// CriticReport is the critic's evaluation of one execution report.
type CriticReport struct {
	OverallScore       float64            `json:"overall_score"`
	OverallLevel       CriticLevel        `json:"overall_level"`
	Insights           []string           `json:"insights"`
	Issues             []Issue            `json:"issues,omitempty"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics"`
}

// FailedTools returns the distinct tools named by non-blocked issues, in issue order.
func (r *CriticReport) FailedTools() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, is := range r.Issues {
		if is.Tool == "" || is.Kind == IssueBlocked {
			continue
		}
		if _, ok := seen[is.Tool]; ok {
			continue
		}
		seen[is.Tool] = struct{}{}
		out = append(out, is.Tool)
	}
	return out
}

// Clone returns a deep copy.
func (r *CriticReport) Clone() *CriticReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Insights = append([]string(nil), r.Insights...)
	c.Issues = append([]Issue(nil), r.Issues...)
	c.PerformanceMetrics = make(map[string]float64, len(r.PerformanceMetrics))
	for k, v := range r.PerformanceMetrics {
		c.PerformanceMetrics[k] = v
	}
	return &c
}
