package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alicevoice/agentcore/api"
	"github.com/alicevoice/agentcore/types"
	"go.uber.org/zap"
)

// ExecutionService 是 HTTP 层使用的执行器能力，*executor.Executor 实现它
type ExecutionService interface {
	GetActiveExecutions() []string
	GetRecentExecutions() []string
	GetExecutionStatus(planID string) (*types.ExecutionReport, bool)
	CancelExecution(planID string) bool
	RetryFailedAction(ctx context.Context, planID, actionID string) (*types.ActionResult, error)
}

// ExecutionHandler 计划执行 API 处理器
type ExecutionHandler struct {
	svc    ExecutionService
	logger *zap.Logger
}

// NewExecutionHandler 创建执行处理器
func NewExecutionHandler(svc ExecutionService, logger *zap.Logger) *ExecutionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionHandler{
		svc:    svc,
		logger: logger.With(zap.String("component", "execution_handler")),
	}
}

// HandleList 处理 GET /api/v1/executions
func (h *ExecutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.ExecutionList{
		Active: h.svc.GetActiveExecutions(),
		Recent: h.svc.GetRecentExecutions(),
	})
}

// HandleGet 处理 GET /api/v1/executions/{plan_id}
func (h *ExecutionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("plan_id")
	report, ok := h.svc.GetExecutionStatus(planID)
	if !ok {
		WriteError(w, types.NewError(types.ErrPlanNotFound, fmt.Sprintf("plan %s not found", planID)), h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleCancel 处理 DELETE /api/v1/executions/{plan_id}
func (h *ExecutionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("plan_id")
	if !h.svc.CancelExecution(planID) {
		WriteError(w, types.NewError(types.ErrPlanNotFound, fmt.Sprintf("plan %s is not executing", planID)), h.logger)
		return
	}
	WriteSuccess(w, api.CancelResponse{ID: planID, Cancelled: true})
}

// HandleRetry 处理 POST /api/v1/executions/{plan_id}/actions/{action_id}/retry
func (h *ExecutionHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	planID, actionID := r.PathValue("plan_id"), r.PathValue("action_id")
	result, err := h.svc.RetryFailedAction(r.Context(), planID, actionID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	h.logger.Info("action retried via API",
		zap.String("plan_id", planID),
		zap.String("action_id", actionID),
		zap.String("status", string(result.Status)),
	)
	WriteSuccess(w, result)
}
