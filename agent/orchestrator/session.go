package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alicevoice/agentcore/agent/planner"
	"github.com/alicevoice/agentcore/internal/eventbus"
	"github.com/alicevoice/agentcore/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Execution context keys added for every plan run.
const (
	ExecContextWorkflowID = "workflow_id"
	ExecContextIteration  = "iteration"
)

// session carries the state of one ExecuteWorkflow call. Fields other than
// w are only touched by the goroutine running the workflow.
type session struct {
	o        *Orchestrator
	w        *workflow
	id       string
	goal     string
	userCtx  map[string]any
	cfg      types.WorkflowConfig
	progress ProgressFunc
	span     trace.Span
	logger   *zap.Logger

	improvement map[string]any
	avoid       []string
}

// run executes the iteration loop and returns the terminal status.
func (s *session) run(ctx context.Context) (types.WorkflowStatus, string) {
	if sem := s.o.sem; sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return types.WorkflowCancelled, ""
		}
		defer sem.Release(1)
	}

	for i := 1; i <= s.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			return types.WorkflowCancelled, ""
		}

		planCtx := s.planContext(i)
		plan, err := s.o.planner.CreatePlan(ctx, s.goal, planCtx)
		if err == nil && plan == nil {
			err = errors.New("planner returned no plan")
		}
		if err != nil {
			if ctx.Err() != nil {
				return types.WorkflowCancelled, ""
			}
			s.logger.Error("planning failed", zap.Int("iteration", i), zap.Error(err))
			return types.WorkflowFailed, fmt.Sprintf("planning failed: %v", err)
		}
		s.setPlan(plan.PlanID)
		s.emitPlan(PhasePlanning, i, MsgPlanningCompleted, plan, nil)

		report := s.o.executor.ExecutePlan(ctx, plan, s.execContext(i), func(r *types.ExecutionReport) {
			s.emitPlan(PhaseExecuting, i, fmt.Sprintf("%d of %d actions completed", r.CompletedActions, r.TotalActions), plan, r)
		})
		s.setPlan("")
		s.emitPlan(PhaseExecution, i, MsgExecutionCompleted, plan, report.Clone())

		cr := s.o.critic.EvaluateExecution(plan, report)
		s.emitScore(PhaseEvaluation, i, MsgEvaluationCompleted, cr.OverallScore)

		s.w.mu.Lock()
		s.w.result.Iterations = append(s.w.result.Iterations, types.Iteration{
			Number:    i,
			Plan:      plan,
			Execution: report,
			Critic:    cr,
		})
		s.w.result.FinalScore = cr.OverallScore
		s.w.mu.Unlock()

		s.logger.Info("iteration evaluated",
			zap.Int("iteration", i),
			zap.String("plan_id", plan.PlanID),
			zap.Strings("tools", plan.Tools()),
			zap.String("execution_status", string(report.Status)),
			zap.Float64("score", cr.OverallScore),
			zap.String("level", string(cr.OverallLevel)),
		)

		if report.Status == types.ExecutionCancelled || ctx.Err() != nil {
			return types.WorkflowCancelled, ""
		}
		if cr.OverallScore >= s.cfg.MinSuccessScore {
			return types.WorkflowCompleted, ""
		}
		if !s.canImprove(i) {
			break
		}
		s.improve(i, cr)
	}
	return types.WorkflowFailed, fmt.Sprintf("success score %.2f not reached", s.cfg.MinSuccessScore)
}

// canImprove reports whether another iteration may follow iteration i.
func (s *session) canImprove(i int) bool {
	return s.cfg.AutoImprove && s.cfg.ImprovementStrategy != types.StrategyNone && i < s.cfg.MaxIterations
}

// improve records the improvement on iteration i and prepares the planner
// context of the next iteration.
func (s *session) improve(i int, cr *types.CriticReport) {
	strategy := ResolveStrategy(s.cfg.ImprovementStrategy, cr)
	failed := cr.FailedTools()
	s.avoid = appendUnique(s.avoid, failed...)

	s.improvement = map[string]any{
		planner.ContextStrategy:         strategy,
		planner.ContextFailedTools:      append([]string(nil), failed...),
		planner.ContextAvoidTools:       append([]string(nil), s.avoid...),
		planner.ContextPreviousInsights: append([]string(nil), cr.Insights...),
	}

	s.w.mu.Lock()
	it := &s.w.result.Iterations[len(s.w.result.Iterations)-1]
	it.ImprovementApplied = true
	it.Strategy = strategy
	s.w.result.TotalImprovements++
	s.w.mu.Unlock()

	s.logger.Info("improvement applied",
		zap.Int("iteration", i),
		zap.String("strategy", string(strategy)),
		zap.Strings("failed_tools", failed),
	)
	s.emitScore(PhaseImprovement, i, "Improvement applied: "+string(strategy), cr.OverallScore)
}

// ResolveStrategy maps the configured strategy to the one applied for cr.
// adaptive picks retry_failed when every failure is a timeout and
// optimize_plan otherwise.
func ResolveStrategy(configured types.ImprovementStrategy, cr *types.CriticReport) types.ImprovementStrategy {
	if configured != types.StrategyAdaptive {
		return configured
	}
	failures := 0
	for _, is := range cr.Issues {
		if is.Kind == types.IssueBlocked {
			continue
		}
		if is.Kind != types.IssueTimeout {
			return types.StrategyOptimizePlan
		}
		failures++
	}
	if failures == 0 {
		return types.StrategyOptimizePlan
	}
	return types.StrategyRetryFailed
}

// planContext merges the caller context with the improvement state.
func (s *session) planContext(i int) map[string]any {
	out := make(map[string]any, len(s.userCtx)+len(s.improvement)+1)
	for k, v := range s.userCtx {
		out[k] = v
	}
	for k, v := range s.improvement {
		out[k] = v
	}
	out[planner.ContextIteration] = i
	return out
}

func (s *session) execContext(i int) map[string]any {
	out := make(map[string]any, len(s.userCtx)+2)
	for k, v := range s.userCtx {
		out[k] = v
	}
	out[ExecContextWorkflowID] = s.id
	out[ExecContextIteration] = i
	return out
}

func (s *session) setPlan(planID string) {
	s.w.mu.Lock()
	s.w.currentPlan = planID
	s.w.mu.Unlock()
}

// finish marks the workflow terminal, moves it to history and returns the
// caller's copy of the result.
func (s *session) finish(status types.WorkflowStatus, errMsg string) *types.WorkflowResult {
	now := time.Now()

	s.w.mu.Lock()
	if s.w.cancelled {
		status = types.WorkflowCancelled
	}
	res := s.w.result
	res.Status = status
	res.CompletedAt = &now
	if last, ok := res.LastIteration(); ok && status != types.WorkflowCancelled {
		res.Success = last.Critic.OverallScore >= s.cfg.MinSuccessScore
	}
	switch status {
	case types.WorkflowFailed:
		res.Error = errMsg
	case types.WorkflowCancelled:
		res.Error = "workflow cancelled"
	}
	s.w.finished = true
	final := res.Clone()
	s.w.mu.Unlock()

	s.o.unregister(s.id, final)

	duration := now.Sub(res.StartedAt)
	if s.o.metrics != nil {
		s.o.metrics.RecordWorkflow(status, len(res.Iterations), duration)
	}
	s.logger.Info("workflow finished",
		zap.String("status", string(status)),
		zap.Bool("success", res.Success),
		zap.Int("iterations", len(res.Iterations)),
		zap.Int("total_improvements", res.TotalImprovements),
		zap.Float64("final_score", res.FinalScore),
		zap.Duration("duration", duration),
	)
	s.deliver(Progress{
		WorkflowID: s.id,
		Iteration:  len(res.Iterations),
		Phase:      PhaseFinished,
		Message:    "Workflow " + string(status),
		Score:      res.FinalScore,
		Status:     status,
		Timestamp:  now,
	})
	return res
}

// =============================================================================
// 进度与事件
// =============================================================================

func (s *session) emit(phase Phase, iteration int, msg string, exec *types.ExecutionReport) {
	p := Progress{
		WorkflowID: s.id,
		Iteration:  iteration,
		Phase:      phase,
		Message:    msg,
		Status:     types.WorkflowRunning,
		Execution:  exec,
		Timestamp:  time.Now(),
	}
	s.deliver(p)
}

func (s *session) emitPlan(phase Phase, iteration int, msg string, plan *types.Plan, exec *types.ExecutionReport) {
	p := Progress{
		WorkflowID: s.id,
		Iteration:  iteration,
		Phase:      phase,
		Message:    msg,
		PlanID:     plan.PlanID,
		Status:     types.WorkflowRunning,
		Execution:  exec,
		Timestamp:  time.Now(),
	}
	if phase == PhasePlanning {
		p.Tools = plan.Tools()
	}
	if exec != nil {
		p.ProgressPercent = exec.ProgressPercent()
	}
	s.deliver(p)
}

func (s *session) emitScore(phase Phase, iteration int, msg string, score float64) {
	s.deliver(Progress{
		WorkflowID: s.id,
		Iteration:  iteration,
		Phase:      phase,
		Message:    msg,
		Score:      score,
		Status:     types.WorkflowRunning,
		Timestamp:  time.Now(),
	})
}

// deliver hands p to the caller's callback and the event publisher.
// Panics in the callback and publish errors are logged only.
func (s *session) deliver(p Progress) {
	if s.progress != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("progress callback panicked", zap.Any("recover", r), zap.String("phase", string(p.Phase)))
				}
			}()
			s.progress(p)
		}()
	}

	if p.Phase == PhaseExecuting {
		return
	}
	s.span.AddEvent(string(p.Phase), trace.WithAttributes(
		attribute.Int("iteration", p.Iteration),
		attribute.String("message", p.Message),
	))
	if s.o.events == nil {
		return
	}
	ev := eventbus.Event{
		Type:       eventType(p.Phase),
		WorkflowID: p.WorkflowID,
		PlanID:     p.PlanID,
		Iteration:  p.Iteration,
		Message:    p.Message,
		Score:      p.Score,
		Status:     string(p.Status),
		Timestamp:  p.Timestamp,
	}
	if len(p.Tools) > 0 {
		ev.Data = map[string]any{"tools": p.Tools}
	}
	if err := s.o.events.Publish(context.Background(), ev); err != nil {
		s.logger.Warn("event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func eventType(p Phase) eventbus.Type {
	switch p {
	case PhaseStarted:
		return eventbus.TypeWorkflowStarted
	case PhasePlanning:
		return eventbus.TypePlanningCompleted
	case PhaseExecution:
		return eventbus.TypeExecutionDone
	case PhaseEvaluation:
		return eventbus.TypeEvaluationDone
	case PhaseImprovement:
		return eventbus.TypeImprovement
	}
	return eventbus.TypeWorkflowFinished
}

func appendUnique(dst []string, items ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range items {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
