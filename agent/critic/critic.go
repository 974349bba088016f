package critic

import (
	"fmt"
	"sort"

	"github.com/alicevoice/agentcore/types"
)

// Config holds the level thresholds.
type Config struct {
	// WarningSuccessRate is the lowest success rate still classified as warning.
	WarningSuccessRate float64 `json:"warning_success_rate" yaml:"warning_success_rate" env:"WARNING_SUCCESS_RATE"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{WarningSuccessRate: 0.5}
}

// Metric names always present in CriticReport.PerformanceMetrics.
const (
	MetricSuccessRate      = "success_rate"
	MetricFailureRate      = "failure_rate"
	MetricCompleted        = "completed_actions"
	MetricFailed           = "failed_actions"
	MetricPending          = "pending_actions"
	MetricTimeouts         = "timeout_count"
	MetricDeadlocks        = "deadlock_count"
	MetricTotalRetries     = "total_retries"
	MetricAvgExecutionMs   = "avg_execution_time_ms"
	MetricMaxExecutionMs   = "max_execution_time_ms"
	MetricPlanConfidence   = "plan_confidence"
	MetricCancelledActions = "cancelled_actions"
)

// Critic scores execution reports. It holds no state besides its configuration.
type Critic struct {
	cfg Config
}

// New creates a critic. Thresholds outside [0,1] fall back to the defaults;
// 0 is kept and classifies every partial failure as a warning.
func New(cfg Config) *Critic {
	if cfg.WarningSuccessRate < 0 || cfg.WarningSuccessRate > 1 {
		cfg.WarningSuccessRate = DefaultConfig().WarningSuccessRate
	}
	return &Critic{cfg: cfg}
}

// EvaluateExecution scores report. Actions are visited in plan order, so
// equal inputs produce identical reports.
func (c *Critic) EvaluateExecution(plan *types.Plan, report *types.ExecutionReport) *types.CriticReport {
	out := &types.CriticReport{
		Insights:           []string{},
		PerformanceMetrics: make(map[string]float64),
	}
	if report == nil {
		report = &types.ExecutionReport{}
	}

	total := report.TotalActions
	successRate := 0.0
	if total > 0 {
		successRate = float64(report.CompletedActions) / float64(total)
	}

	var (
		timeouts, deadlocks, retries, cancelled, pending, timed int
		sumMs, maxMs                                            int64
	)
	for _, a := range orderedActions(plan, report) {
		res := report.Results[a.StepID]
		if res == nil {
			continue
		}
		retries += res.RetryCount
		if res.Status == types.ActionCompleted || res.Status == types.ActionFailed {
			timed++
			sumMs += res.ExecutionTimeMs
			if res.ExecutionTimeMs > maxMs {
				maxMs = res.ExecutionTimeMs
			}
		}

		switch res.Status {
		case types.ActionFailed:
			issue := types.Issue{ActionID: a.StepID, Tool: a.Tool, Kind: issueKind(res.ErrorKind)}
			switch res.ErrorKind {
			case types.ErrorKindTimeout:
				timeouts++
				issue.Message = fmt.Sprintf("Action %s (%s) timed out: %s", a.StepID, a.Tool, res.ErrorMessage)
			case types.ErrorKindDeadlock:
				deadlocks++
				issue.Message = fmt.Sprintf("Action %s (%s) has unsatisfiable dependencies: %s", a.StepID, a.Tool, res.ErrorMessage)
			case types.ErrorKindNotFound:
				issue.Message = fmt.Sprintf("Action %s uses unknown tool %s", a.StepID, a.Tool)
			default:
				issue.Message = fmt.Sprintf("Action %s (%s) failed: %s", a.StepID, a.Tool, res.ErrorMessage)
			}
			addIssue(out, issue)
		case types.ActionPending:
			pending++
			addIssue(out, types.Issue{
				ActionID: a.StepID,
				Tool:     a.Tool,
				Kind:     types.IssueBlocked,
				Message:  fmt.Sprintf("Action %s (%s) was never started because a dependency did not complete", a.StepID, a.Tool),
			})
		case types.ActionCancelled:
			cancelled++
		}
	}

	if report.Status == types.ExecutionCancelled {
		addIssue(out, types.Issue{
			Kind:    types.IssueCancelled,
			Message: fmt.Sprintf("Execution was cancelled with %d of %d actions completed", report.CompletedActions, total),
		})
	}
	if total == 0 {
		addIssue(out, types.Issue{Kind: types.IssueEmptyPlan, Message: "Plan contained no executable actions"})
	}

	out.OverallLevel = c.level(report, successRate, deadlocks)
	out.OverallScore = successRate
	if out.OverallLevel == types.LevelCritical {
		out.OverallScore = 0
	}
	out.Insights = append(out.Insights, summary(out.OverallLevel, report, successRate))

	m := out.PerformanceMetrics
	m[MetricSuccessRate] = successRate
	m[MetricFailureRate] = 0
	if total > 0 {
		m[MetricFailureRate] = float64(report.FailedActions) / float64(total)
	}
	m[MetricCompleted] = float64(report.CompletedActions)
	m[MetricFailed] = float64(report.FailedActions)
	m[MetricPending] = float64(pending)
	m[MetricCancelledActions] = float64(cancelled)
	m[MetricTimeouts] = float64(timeouts)
	m[MetricDeadlocks] = float64(deadlocks)
	m[MetricTotalRetries] = float64(retries)
	m[MetricAvgExecutionMs] = 0
	if timed > 0 {
		m[MetricAvgExecutionMs] = float64(sumMs) / float64(timed)
	}
	m[MetricMaxExecutionMs] = float64(maxMs)
	if plan != nil {
		m[MetricPlanConfidence] = plan.ConfidenceScore
	}
	return out
}

// level classifies the outcome.
//
//	critical: empty plan, cancelled run or any dependency deadlock
//	success:  every action completed
//	warning:  partial failure with success rate >= WarningSuccessRate
//	error:    everything else
func (c *Critic) level(report *types.ExecutionReport, successRate float64, deadlocks int) types.CriticLevel {
	switch {
	case report.TotalActions == 0, report.Status == types.ExecutionCancelled, deadlocks > 0:
		return types.LevelCritical
	case report.FailedActions == 0 && report.CompletedActions == report.TotalActions:
		return types.LevelSuccess
	case successRate >= c.cfg.WarningSuccessRate:
		return types.LevelWarning
	default:
		return types.LevelError
	}
}

func summary(level types.CriticLevel, report *types.ExecutionReport, successRate float64) string {
	switch level {
	case types.LevelSuccess:
		return fmt.Sprintf("All %d actions completed successfully", report.TotalActions)
	case types.LevelCritical:
		return fmt.Sprintf("Critical: execution did not produce a usable result (%d/%d actions completed)", report.CompletedActions, report.TotalActions)
	}
	return fmt.Sprintf("%d of %d actions completed (%.0f%% success rate), %d failed",
		report.CompletedActions, report.TotalActions, successRate*100, report.FailedActions)
}

func addIssue(out *types.CriticReport, issue types.Issue) {
	out.Issues = append(out.Issues, issue)
	out.Insights = append(out.Insights, issue.Message)
}

func issueKind(k types.ErrorKind) types.IssueKind {
	switch k {
	case types.ErrorKindTimeout:
		return types.IssueTimeout
	case types.ErrorKindDeadlock:
		return types.IssueDeadlock
	case types.ErrorKindNotFound:
		return types.IssueNotFound
	case types.ErrorKindCancelled:
		return types.IssueCancelled
	}
	return types.IssueToolFailure
}

// orderedActions returns the plan actions with a result, in plan order,
// followed by results the plan does not mention, sorted by id.
func orderedActions(plan *types.Plan, report *types.ExecutionReport) []types.Action {
	seen := make(map[string]bool, len(report.Results))
	var out []types.Action
	if plan != nil {
		for _, a := range plan.Actions {
			if seen[a.StepID] {
				continue
			}
			seen[a.StepID] = true
			out = append(out, a)
		}
	}

	var extra []string
	for id := range report.Results {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, types.Action{StepID: id})
	}
	return out
}
