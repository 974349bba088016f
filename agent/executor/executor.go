package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alicevoice/agentcore/internal/retry"
	"github.com/alicevoice/agentcore/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DeadlockMessage prefixes the error message of unsatisfiable actions.
const DeadlockMessage = "dependency deadlock"

// Config 执行器配置
type Config struct {
	MaxParallelActions   int           `json:"max_parallel_actions" yaml:"max_parallel_actions" env:"MAX_PARALLEL_ACTIONS"`
	DefaultActionTimeout time.Duration `json:"default_action_timeout" yaml:"default_action_timeout" env:"DEFAULT_ACTION_TIMEOUT"`
	HistorySize          int           `json:"history_size" yaml:"history_size" env:"HISTORY_SIZE"`
	Retry                retry.Policy  `json:"retry" yaml:"retry" env:"RETRY"`
}

// DefaultConfig 返回默认执行器配置
func DefaultConfig() Config {
	return Config{
		MaxParallelActions:   4,
		DefaultActionTimeout: 30 * time.Second,
		HistorySize:          100,
		Retry:                retry.DefaultPolicy(),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxParallelActions <= 0 {
		c.MaxParallelActions = d.MaxParallelActions
	}
	if c.DefaultActionTimeout <= 0 {
		c.DefaultActionTimeout = d.DefaultActionTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}

// ProgressFunc receives a report snapshot after every action completion.
type ProgressFunc func(report *types.ExecutionReport)

// MetricsRecorder receives execution measurements. internal/metrics.Collector implements it.
type MetricsRecorder interface {
	RecordAction(tool string, status types.ActionStatus, retries int, duration time.Duration)
	RecordPlan(status types.ExecutionStatus, duration time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer overrides the tracer, mainly for tests.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// run is the state of one active execution. mu guards report;
// progressMu serializes result recording with progress delivery.
type run struct {
	plan       *types.Plan
	report     *types.ExecutionReport
	invalid    map[string]bool
	mu         sync.Mutex
	progressMu sync.Mutex
	cancel     context.CancelFunc
	cancelled  bool
	// finished 在 finish 持有 mu 时置位，之后 report 只属于 ExecutePlan 的调用方
	finished bool
}

type historyEntry struct {
	mu     sync.Mutex
	plan   *types.Plan
	report *types.ExecutionReport
}

// Executor runs plans against a tool invoker. One Executor serves many
// concurrent executions; hook registrations are shared by all of them.
type Executor struct {
	invoker types.ToolInvoker
	cfg     Config
	hooks   *hookRegistry
	logger  *zap.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	mu           sync.RWMutex
	active       map[string]*run
	history      map[string]*historyEntry
	historyOrder []string
}

// New creates an executor.
func New(invoker types.ToolInvoker, cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "executor"))
	e := &Executor{
		invoker: invoker,
		cfg:     cfg.normalized(),
		hooks:   newHookRegistry(logger),
		logger:  logger,
		tracer:  otel.Tracer("github.com/alicevoice/agentcore/agent/executor"),
		active:  make(map[string]*run),
		history: make(map[string]*historyEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// ExecutePlan runs plan to a terminal status and returns its report.
// It never panics: a nil, empty or already running plan yields a failed report.
func (e *Executor) ExecutePlan(ctx context.Context, plan *types.Plan, execCtx map[string]any, progress ProgressFunc) *types.ExecutionReport {
	if plan == nil || len(plan.Actions) == 0 {
		return e.rejectPlan(ctx, plan, "plan has no actions")
	}

	r := &run{
		plan:    plan,
		report:  types.NewExecutionReport(plan),
		invalid: duplicateIDs(plan),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel

	e.mu.Lock()
	if _, busy := e.active[plan.PlanID]; busy {
		e.mu.Unlock()
		return e.rejectPlan(ctx, plan, "plan is already executing")
	}
	e.active[plan.PlanID] = r
	e.mu.Unlock()

	runCtx, span := e.tracer.Start(runCtx, "executor.plan", trace.WithAttributes(
		attribute.String("plan.id", plan.PlanID),
		attribute.Int("plan.actions", len(plan.Actions)),
	))
	defer span.End()

	start := time.Now()
	r.mu.Lock()
	r.report.Status = types.ExecutionInProgress
	r.report.StartedAt = start
	for id := range r.invalid {
		e.failLocked(r, id, types.ErrorKindValidation, fmt.Sprintf("duplicate step id %q in plan", id))
	}
	r.mu.Unlock()

	e.logger.Info("plan execution started",
		zap.String("plan_id", plan.PlanID),
		zap.Int("actions", r.report.TotalActions),
	)

	for {
		if e.stopped(runCtx, r) {
			break
		}
		ready := e.readySet(r)
		if len(ready) == 0 {
			e.markDeadlocks(r)
			break
		}

		g := new(errgroup.Group)
		g.SetLimit(e.cfg.MaxParallelActions)
		for _, a := range ready {
			a := a
			g.Go(func() error {
				e.runAction(runCtx, r, a, execCtx, progress)
				return nil
			})
		}
		_ = g.Wait()
	}

	report := e.finish(ctx, runCtx, r, time.Since(start))

	span.SetAttributes(
		attribute.String("execution.status", string(report.Status)),
		attribute.Int("execution.completed", report.CompletedActions),
		attribute.Int("execution.failed", report.FailedActions),
	)
	if report.Status != types.ExecutionCompleted {
		span.SetStatus(codes.Error, string(report.Status))
	}
	return report
}

// rejectPlan returns a failed report without running anything.
func (e *Executor) rejectPlan(ctx context.Context, plan *types.Plan, reason string) *types.ExecutionReport {
	now := time.Now()
	var report *types.ExecutionReport
	if plan == nil {
		report = &types.ExecutionReport{StartedAt: now, Results: map[string]*types.ActionResult{}}
	} else {
		report = types.NewExecutionReport(plan)
		for _, res := range report.Results {
			res.Status = types.ActionFailed
			res.ErrorKind = types.ErrorKindValidation
			res.ErrorMessage = reason
			res.CompletedAt = &now
		}
		report.FailedActions = len(report.Results)
	}
	report.Status = types.ExecutionFailed
	report.CompletedAt = &now

	e.logger.Warn("plan rejected", zap.String("plan_id", report.PlanID), zap.String("reason", reason))
	e.firePlanComplete(ctx, report)
	if e.metrics != nil {
		e.metrics.RecordPlan(report.Status, 0)
	}
	return report
}

func (e *Executor) stopped(ctx context.Context, r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled || ctx.Err() != nil
}

// readySet returns pending actions, in plan order, whose dependencies all completed.
func (e *Executor) readySet(r *run) []types.Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(r.plan.Actions))
	var ready []types.Action
	for _, a := range r.plan.Actions {
		if seen[a.StepID] || r.invalid[a.StepID] {
			continue
		}
		seen[a.StepID] = true
		if r.report.Results[a.StepID].Status != types.ActionPending {
			continue
		}
		if e.depsCompletedLocked(r, a) {
			ready = append(ready, a)
		}
	}
	return ready
}

func (e *Executor) depsCompletedLocked(r *run, a types.Action) bool {
	for _, d := range a.DependsOn {
		res, ok := r.report.Results[d]
		if !ok || res.Status != types.ActionCompleted {
			return false
		}
	}
	return true
}

// markDeadlocks fails pending actions that can never become ready for a
// reason other than a failed or cancelled upstream action.
func (e *Executor) markDeadlocks(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]types.Action, len(r.plan.Actions))
	for _, a := range r.plan.Actions {
		if _, dup := byID[a.StepID]; !dup {
			byID[a.StepID] = a
		}
	}

	memo := make(map[string]bool)
	visiting := make(map[string]bool)
	var blocked func(id string) bool
	blocked = func(id string) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		if visiting[id] {
			return false
		}
		visiting[id] = true
		defer delete(visiting, id)

		out := false
		for _, d := range byID[id].DependsOn {
			res, ok := r.report.Results[d]
			if !ok {
				continue
			}
			if res.Status == types.ActionFailed || res.Status == types.ActionCancelled || blocked(d) {
				out = true
				break
			}
		}
		memo[id] = out
		return out
	}

	var deadlocked []string
	for _, a := range r.plan.Actions {
		res := r.report.Results[a.StepID]
		if res.Status != types.ActionPending || blocked(a.StepID) {
			continue
		}
		deadlocked = append(deadlocked, a.StepID)
	}

	for _, id := range deadlocked {
		var unresolved []string
		for _, d := range byID[id].DependsOn {
			if res, ok := r.report.Results[d]; !ok || res.Status != types.ActionCompleted {
				unresolved = append(unresolved, d)
			}
		}
		msg := fmt.Sprintf("%s: unresolved dependencies [%s]", DeadlockMessage, strings.Join(unresolved, ", "))
		e.failLocked(r, id, types.ErrorKindDeadlock, msg)
		e.logger.Warn("action deadlocked",
			zap.String("plan_id", r.plan.PlanID),
			zap.String("action_id", id),
			zap.Strings("unresolved", unresolved),
		)
	}
}

// failLocked marks a never-started action as failed. r.mu must be held.
func (e *Executor) failLocked(r *run, id string, kind types.ErrorKind, msg string) {
	res := r.report.Results[id]
	if res == nil || res.Status.IsTerminal() {
		return
	}
	now := time.Now()
	res.Status = types.ActionFailed
	res.ErrorKind = kind
	res.ErrorMessage = msg
	res.CompletedAt = &now
	r.report.FailedActions++
}

// outcome is the result of invoking a tool, possibly with retries.
type outcome struct {
	tool    types.ToolResult
	kind    types.ErrorKind
	retries int
	elapsed time.Duration
}

func (o outcome) err() error {
	if o.tool.OK {
		return nil
	}
	code := o.tool.Code
	if code == "" {
		code = types.ErrToolFailure
	}
	return types.NewError(code, o.tool.Message)
}

func (e *Executor) runAction(ctx context.Context, r *run, a types.Action, execCtx map[string]any, progress ProgressFunc) {
	r.mu.Lock()
	if r.cancelled || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	res := r.report.Results[a.StepID]
	started := time.Now()
	res.Status = types.ActionRunning
	res.StartedAt = &started
	r.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "executor.action", trace.WithAttributes(
		attribute.String("action.id", a.StepID),
		attribute.String("action.tool", a.Tool),
	))
	defer span.End()

	e.fireBeforeAction(ctx, a, execCtx)
	out := e.invokeWithRetry(ctx, a)

	r.progressMu.Lock()
	defer r.progressMu.Unlock()

	r.mu.Lock()
	e.applyOutcome(r.report, a.StepID, out)
	snapshot := r.report.Clone()
	result := res.Clone()
	r.mu.Unlock()

	if !out.tool.OK {
		span.SetStatus(codes.Error, out.tool.Message)
		e.logger.Warn("action failed",
			zap.String("plan_id", r.plan.PlanID),
			zap.String("action_id", a.StepID),
			zap.String("tool", a.Tool),
			zap.String("error_kind", string(out.kind)),
			zap.String("error", out.tool.Message),
		)
	} else {
		e.logger.Debug("action completed",
			zap.String("plan_id", r.plan.PlanID),
			zap.String("action_id", a.StepID),
			zap.Duration("duration", out.elapsed),
		)
	}

	e.fireAfterAction(ctx, a, result)
	if !out.tool.OK {
		e.fireError(ctx, a, out.err())
	}
	if e.metrics != nil {
		e.metrics.RecordAction(a.Tool, result.Status, out.retries, out.elapsed)
	}
	if progress != nil {
		e.safeProgress(progress, snapshot)
	}
}

// applyOutcome records an outcome on a running or failed action and fixes the counters.
func (e *Executor) applyOutcome(report *types.ExecutionReport, id string, out outcome) {
	res := report.Results[id]
	prev := res.Status
	now := time.Now()

	res.ExecutionTimeMs = out.elapsed.Milliseconds()
	res.RetryCount += out.retries
	res.CompletedAt = &now
	if out.tool.OK {
		res.Status = types.ActionCompleted
		res.Result = out.tool.Data
		if res.Result == nil {
			res.Result = out.tool.Message
		}
		res.ErrorMessage = ""
		res.ErrorKind = types.ErrorKindNone
		report.CompletedActions++
		if prev == types.ActionFailed {
			report.FailedActions--
		}
		return
	}

	res.Status = types.ActionFailed
	res.ErrorKind = out.kind
	res.ErrorMessage = out.tool.Message
	if prev != types.ActionFailed {
		report.FailedActions++
	}
}

func (e *Executor) safeProgress(progress ProgressFunc, snapshot *types.ExecutionReport) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("progress callback panicked", zap.Any("panic", rec))
		}
	}()
	progress(snapshot)
}

// invokeWithRetry calls the tool, retrying per the configured policy.
// Missing tools and rate limiting are not retried.
func (e *Executor) invokeWithRetry(ctx context.Context, a types.Action) outcome {
	start := time.Now()
	var last outcome
	retries, _ := e.cfg.Retry.Do(ctx, func(attempt int) error {
		last = e.invoke(ctx, a)
		if last.tool.OK {
			return nil
		}
		if last.kind == types.ErrorKindNotFound || last.tool.Code == types.ErrRateLimited {
			return retry.Permanent(last.err())
		}
		return last.err()
	})
	last.retries = retries
	last.elapsed = time.Since(start)
	return last
}

// invoke runs one tool call bounded by the action timeout. The call is
// detached from cancellation of ctx so an in-flight action completes; a
// call that outlives the timeout is abandoned.
func (e *Executor) invoke(ctx context.Context, a types.Action) outcome {
	start := time.Now()
	timeout := e.cfg.DefaultActionTimeout
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	ch := make(chan types.ToolResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- types.ToolResult{OK: false, Message: fmt.Sprintf("tool %s panicked: %v", a.Tool, rec), Code: types.ErrToolFailure}
			}
		}()
		ch <- e.invoker.ExecuteTool(toolCtx, a.Tool, a.Args)
	}()

	select {
	case res := <-ch:
		return outcome{tool: res, kind: classify(res), elapsed: time.Since(start)}
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			msg := fmt.Sprintf("action %s timed out after %s", a.StepID, timeout)
			return outcome{
				tool:    types.ToolResult{OK: false, Message: msg, Code: types.ErrTimeout},
				kind:    types.ErrorKindTimeout,
				elapsed: time.Since(start),
			}
		}
		return outcome{
			tool:    types.ToolResult{OK: false, Message: toolCtx.Err().Error(), Code: types.ErrCancelled},
			kind:    types.ErrorKindCancelled,
			elapsed: time.Since(start),
		}
	}
}

func classify(res types.ToolResult) types.ErrorKind {
	if res.OK {
		return types.ErrorKindNone
	}
	switch res.Code {
	case types.ErrToolNotFound:
		return types.ErrorKindNotFound
	case types.ErrTimeout:
		return types.ErrorKindTimeout
	case types.ErrCancelled:
		return types.ErrorKindCancelled
	}
	return types.ErrorKindTool
}

// finish settles the final status, fires on_plan_complete and moves the run to history.
func (e *Executor) finish(parent, runCtx context.Context, r *run, elapsed time.Duration) *types.ExecutionReport {
	r.mu.Lock()
	now := time.Now()
	if r.cancelled || runCtx.Err() != nil {
		r.cancelled = true
		for _, res := range r.report.Results {
			if res.Status == types.ActionPending {
				res.Status = types.ActionCancelled
				res.ErrorKind = types.ErrorKindCancelled
				res.ErrorMessage = "execution cancelled before the action started"
			}
		}
		r.report.Status = types.ExecutionCancelled
	} else if r.report.FailedActions == 0 {
		r.report.Status = types.ExecutionCompleted
	} else {
		r.report.Status = types.ExecutionFailed
	}
	if r.report.CompletedAt == nil {
		r.report.CompletedAt = &now
	}
	r.finished = true
	report := r.report
	final := report.Clone()

	// 锁顺序 r.mu -> e.mu；其他路径都先释放 e.mu 再获取 r.mu
	e.mu.Lock()
	delete(e.active, r.plan.PlanID)
	e.remember(r.plan, final)
	e.mu.Unlock()
	r.mu.Unlock()

	e.logger.Info("plan execution finished",
		zap.String("plan_id", r.plan.PlanID),
		zap.String("status", string(report.Status)),
		zap.Int("completed", report.CompletedActions),
		zap.Int("failed", report.FailedActions),
		zap.Duration("duration", elapsed),
	)

	e.firePlanComplete(context.WithoutCancel(parent), report)
	if e.metrics != nil {
		e.metrics.RecordPlan(report.Status, elapsed)
	}
	return report
}

// remember stores a finished report, evicting the oldest beyond HistorySize. e.mu must be held.
func (e *Executor) remember(plan *types.Plan, report *types.ExecutionReport) {
	if _, exists := e.history[plan.PlanID]; !exists {
		e.historyOrder = append(e.historyOrder, plan.PlanID)
	}
	e.history[plan.PlanID] = &historyEntry{plan: plan, report: report}
	for len(e.historyOrder) > e.cfg.HistorySize {
		oldest := e.historyOrder[0]
		e.historyOrder = e.historyOrder[1:]
		delete(e.history, oldest)
	}
}

// CancelExecution stops an active execution. It returns false when the
// plan is not executing.
func (e *Executor) CancelExecution(planID string) bool {
	e.mu.RLock()
	r, ok := e.active[planID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	if !r.cancelled {
		now := time.Now()
		r.cancelled = true
		r.report.Status = types.ExecutionCancelled
		r.report.CompletedAt = &now
	}
	r.mu.Unlock()
	r.cancel()

	e.logger.Info("plan execution cancelled", zap.String("plan_id", planID))
	return true
}

// GetExecutionStatus returns a snapshot of an active or recent execution.
func (e *Executor) GetExecutionStatus(planID string) (*types.ExecutionReport, bool) {
	e.mu.RLock()
	r, active := e.active[planID]
	h, recent := e.history[planID]
	e.mu.RUnlock()

	switch {
	case active:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.report.Clone(), true
	case recent:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.report.Clone(), true
	}
	return nil, false
}

// GetActiveExecutions returns the ids of executing plans, sorted.
func (e *Executor) GetActiveExecutions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetRecentExecutions returns the ids of finished plans still in history, oldest first.
func (e *Executor) GetRecentExecutions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.historyOrder...)
}

// RetryFailedAction re-invokes the tool of a failed action of a finished
// execution. Dependents are not started. Unless the execution was cancelled,
// the report becomes completed only when every action has completed.
func (e *Executor) RetryFailedAction(ctx context.Context, planID, actionID string) (*types.ActionResult, error) {
	e.mu.RLock()
	_, active := e.active[planID]
	h, ok := e.history[planID]
	e.mu.RUnlock()

	if active {
		return nil, types.NewError(types.ErrPlanActive, fmt.Sprintf("plan %s is still executing", planID))
	}
	if !ok {
		return nil, types.NewError(types.ErrPlanNotFound, fmt.Sprintf("plan %s not found", planID))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ap, found := h.plan.Action(actionID)
	res := h.report.Results[actionID]
	if !found || res == nil {
		return nil, types.NewError(types.ErrActionNotFound, fmt.Sprintf("action %s not found in plan %s", actionID, planID))
	}
	action := *ap
	if res.Status != types.ActionFailed {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("action %s is %s, only failed actions can be retried", actionID, res.Status))
	}
	switch res.ErrorKind {
	case types.ErrorKindDeadlock, types.ErrorKindValidation:
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("action %s failed with %s and cannot be retried", actionID, res.ErrorKind))
	}
	for _, d := range action.DependsOn {
		if dep, ok := h.report.Results[d]; !ok || dep.Status != types.ActionCompleted {
			return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("dependency %s of action %s has not completed", d, actionID))
		}
	}

	e.fireBeforeAction(ctx, action, nil)
	out := e.invoke(ctx, action)
	out.retries = 1

	e.applyOutcome(h.report, actionID, out)
	// completed 要求所有动作都已完成；被阻塞而未启动的 dependents 让报告保持 failed
	if h.report.Status != types.ExecutionCancelled {
		if h.report.FailedActions == 0 && h.report.CompletedActions == h.report.TotalActions {
			h.report.Status = types.ExecutionCompleted
		} else {
			h.report.Status = types.ExecutionFailed
		}
	}
	result := res.Clone()

	e.fireAfterAction(ctx, action, result)
	if !out.tool.OK {
		e.fireError(ctx, action, out.err())
	}
	if e.metrics != nil {
		e.metrics.RecordAction(action.Tool, result.Status, 1, out.elapsed)
	}

	e.logger.Info("failed action retried",
		zap.String("plan_id", planID),
		zap.String("action_id", actionID),
		zap.String("status", string(result.Status)),
		zap.Int("retry_count", result.RetryCount),
	)
	return result, nil
}

// duplicateIDs returns step ids appearing more than once.
func duplicateIDs(plan *types.Plan) map[string]bool {
	count := make(map[string]int, len(plan.Actions))
	for _, a := range plan.Actions {
		count[a.StepID]++
	}
	dups := make(map[string]bool)
	for id, n := range count {
		if n > 1 {
			dups[id] = true
		}
	}
	return dups
}
