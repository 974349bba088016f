package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alicevoice/agentcore/agent/executor"
	"github.com/alicevoice/agentcore/internal/eventbus"
	"github.com/alicevoice/agentcore/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Planner produces a plan for a goal.
type Planner interface {
	CreatePlan(ctx context.Context, goal string, planCtx map[string]any) (*types.Plan, error)
}

// Executor runs plans.
type Executor interface {
	ExecutePlan(ctx context.Context, plan *types.Plan, execCtx map[string]any, progress executor.ProgressFunc) *types.ExecutionReport
	CancelExecution(planID string) bool
}

// Critic scores execution reports.
type Critic interface {
	EvaluateExecution(plan *types.Plan, report *types.ExecutionReport) *types.CriticReport
}

// Config 编排器配置
type Config struct {
	// MaxConcurrentWorkflows 限制同时运行的工作流数量，<= 0 表示不限制
	MaxConcurrentWorkflows int `json:"max_concurrent_workflows" yaml:"max_concurrent_workflows" env:"MAX_CONCURRENT_WORKFLOWS"`
	// HistorySize 保留的已结束工作流数量
	HistorySize int                  `json:"history_size" yaml:"history_size" env:"HISTORY_SIZE"`
	Workflow    types.WorkflowConfig `json:"workflow" yaml:"workflow" env:"WORKFLOW"`
}

// DefaultConfig 返回默认编排器配置
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWorkflows: 16,
		HistorySize:            100,
		Workflow:               types.DefaultWorkflowConfig(),
	}
}

// Phase identifies the workflow step a progress update belongs to.
type Phase string

const (
	PhaseStarted     Phase = "started"
	PhasePlanning    Phase = "planning"
	PhaseExecuting   Phase = "executing"
	PhaseExecution   Phase = "execution"
	PhaseEvaluation  Phase = "evaluation"
	PhaseImprovement Phase = "improvement"
	PhaseFinished    Phase = "finished"
)

// Progress messages delivered after each phase.
const (
	MsgPlanningCompleted   = "Planning completed"
	MsgExecutionCompleted  = "Execution completed"
	MsgEvaluationCompleted = "Evaluation completed"
)

// Progress is one workflow progress update.
type Progress struct {
	WorkflowID      string                 `json:"workflow_id"`
	Iteration       int                    `json:"iteration"`
	Phase           Phase                  `json:"phase"`
	Message         string                 `json:"message"`
	PlanID          string                 `json:"plan_id,omitempty"`
	Tools           []string               `json:"tools,omitempty"` // 仅 planning 阶段
	Score           float64                `json:"score,omitempty"`
	ProgressPercent float64                `json:"progress_percent,omitempty"`
	Status          types.WorkflowStatus   `json:"status,omitempty"`
	Execution       *types.ExecutionReport `json:"execution,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// ProgressFunc receives progress updates. Calls for one workflow are sequential.
type ProgressFunc func(Progress)

// MetricsRecorder receives workflow measurements. internal/metrics.Collector implements it.
type MetricsRecorder interface {
	RecordWorkflow(status types.WorkflowStatus, iterations int, duration time.Duration)
	SetActiveWorkflows(n int)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEvents publishes phase events to p.
func WithEvents(p eventbus.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// workflow is the registry entry of one running workflow. mu guards all fields.
type workflow struct {
	mu          sync.Mutex
	result      *types.WorkflowResult
	cancel      context.CancelFunc
	cancelled   bool
	finished    bool
	currentPlan string
}

func (w *workflow) snapshot() *types.WorkflowResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result.Clone()
}

// Orchestrator runs workflows. Each instance owns its registry of active workflows.
type Orchestrator struct {
	planner  Planner
	executor Executor
	critic   Critic
	cfg      Config
	sem      *semaphore.Weighted
	logger   *zap.Logger
	metrics  MetricsRecorder
	events   eventbus.Publisher
	tracer   trace.Tracer

	mu          sync.RWMutex
	active      map[string]*workflow
	recent      map[string]*types.WorkflowResult
	recentOrder []string
}

// New creates an orchestrator.
func New(p Planner, e Executor, c Critic, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	o := &Orchestrator{
		planner:  p,
		executor: e,
		critic:   c,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "orchestrator")),
		tracer:   otel.Tracer("github.com/alicevoice/agentcore/agent/orchestrator"),
		active:   make(map[string]*workflow),
		recent:   make(map[string]*types.WorkflowResult),
	}
	if cfg.MaxConcurrentWorkflows > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentWorkflows))
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// ExecuteWorkflow runs goal with the default workflow configuration.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, goal string, wfCtx map[string]any, progress ProgressFunc) (*types.WorkflowResult, error) {
	return o.ExecuteWorkflowWithConfig(ctx, goal, wfCtx, o.cfg.Workflow, progress)
}

// ExecuteWorkflowWithConfig runs goal until the critic score reaches
// cfg.MinSuccessScore or the iteration budget is spent. The only error is
// an invalid cfg; every other outcome is reported through the result status.
func (o *Orchestrator) ExecuteWorkflowWithConfig(ctx context.Context, goal string, wfCtx map[string]any, cfg types.WorkflowConfig, progress ProgressFunc) (*types.WorkflowResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &workflow{
		result: &types.WorkflowResult{
			WorkflowID:   uuid.NewString(),
			OriginalGoal: goal,
			Status:       types.WorkflowRunning,
			Iterations:   []types.Iteration{},
			StartedAt:    time.Now(),
		},
		cancel: cancel,
	}
	id := w.result.WorkflowID
	o.register(w)

	wctx, span := o.tracer.Start(wctx, "orchestrator.workflow", trace.WithAttributes(
		attribute.String("workflow.id", id),
		attribute.Int("workflow.max_iterations", cfg.MaxIterations),
		attribute.String("workflow.strategy", string(cfg.ImprovementStrategy)),
	))
	defer span.End()

	s := &session{
		o:        o,
		w:        w,
		id:       id,
		goal:     goal,
		userCtx:  wfCtx,
		cfg:      cfg,
		progress: progress,
		span:     span,
		logger:   o.logger.With(zap.String("workflow_id", id)),
	}
	s.logger.Info("workflow started",
		zap.String("goal", goal),
		zap.Int("max_iterations", cfg.MaxIterations),
		zap.Float64("min_success_score", cfg.MinSuccessScore),
	)
	s.emit(PhaseStarted, 0, "Workflow started", nil)

	status, errMsg := s.run(wctx)
	result := s.finish(status, errMsg)

	span.SetAttributes(
		attribute.String("workflow.status", string(result.Status)),
		attribute.Int("workflow.iterations", len(result.Iterations)),
		attribute.Float64("workflow.final_score", result.FinalScore),
	)
	if result.Status != types.WorkflowCompleted {
		span.SetStatus(codes.Error, string(result.Status))
	}
	return result, nil
}

// CancelWorkflow cancels a running workflow and its current plan execution.
// It returns false when the workflow is unknown or already finished.
func (o *Orchestrator) CancelWorkflow(id string) bool {
	o.mu.RLock()
	w, ok := o.active[id]
	o.mu.RUnlock()
	if !ok {
		return false
	}

	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return false
	}
	w.cancelled = true
	planID := w.currentPlan
	w.mu.Unlock()

	w.cancel()
	if planID != "" {
		o.executor.CancelExecution(planID)
	}
	o.logger.Info("workflow cancelled", zap.String("workflow_id", id), zap.String("plan_id", planID))
	return true
}

// CancelAll cancels every running workflow and returns how many were cancelled.
func (o *Orchestrator) CancelAll() int {
	n := 0
	for _, id := range o.GetActiveWorkflows() {
		if o.CancelWorkflow(id) {
			n++
		}
	}
	return n
}

// GetActiveWorkflows returns the ids of running workflows, sorted.
func (o *Orchestrator) GetActiveWorkflows() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetRecentWorkflows returns the ids of finished workflows still in history, oldest first.
func (o *Orchestrator) GetRecentWorkflows() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.recentOrder...)
}

// GetWorkflow returns a snapshot of a running or recently finished workflow.
func (o *Orchestrator) GetWorkflow(id string) (*types.WorkflowResult, bool) {
	o.mu.RLock()
	w, active := o.active[id]
	res, recent := o.recent[id]
	o.mu.RUnlock()

	switch {
	case active:
		return w.snapshot(), true
	case recent:
		return res.Clone(), true
	}
	return nil, false
}

func (o *Orchestrator) register(w *workflow) {
	o.mu.Lock()
	o.active[w.result.WorkflowID] = w
	n := len(o.active)
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.SetActiveWorkflows(n)
	}
}

func (o *Orchestrator) unregister(id string, final *types.WorkflowResult) {
	o.mu.Lock()
	delete(o.active, id)
	if _, exists := o.recent[id]; !exists {
		o.recentOrder = append(o.recentOrder, id)
	}
	o.recent[id] = final
	for len(o.recentOrder) > o.cfg.HistorySize {
		oldest := o.recentOrder[0]
		o.recentOrder = o.recentOrder[1:]
		delete(o.recent, oldest)
	}
	n := len(o.active)
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.SetActiveWorkflows(n)
	}
}
