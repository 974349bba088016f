package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/api"
	"github.com/alicevoice/agentcore/types"
	"go.uber.org/zap"
)

// =============================================================================
// Workflow Handler
// =============================================================================

// WorkflowService 是 HTTP 层使用的编排器能力，*orchestrator.Orchestrator 实现它
type WorkflowService interface {
	Config() orchestrator.Config
	ExecuteWorkflowWithConfig(ctx context.Context, goal string, wfCtx map[string]any, cfg types.WorkflowConfig, progress orchestrator.ProgressFunc) (*types.WorkflowResult, error)
	CancelWorkflow(id string) bool
	GetActiveWorkflows() []string
	GetRecentWorkflows() []string
	GetWorkflow(id string) (*types.WorkflowResult, bool)
}

// WorkflowHandler 工作流 API 处理器
type WorkflowHandler struct {
	svc    WorkflowService
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(svc WorkflowService, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		svc:    svc,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// resolveRequest 校验请求并合并配置覆盖
func (h *WorkflowHandler) resolveRequest(req *api.WorkflowRequest) (types.WorkflowConfig, error) {
	if err := req.Validate(); err != nil {
		return types.WorkflowConfig{}, err
	}
	cfg := req.Config.Apply(h.svc.Config().Workflow)
	if err := cfg.Validate(); err != nil {
		return types.WorkflowConfig{}, err
	}
	return cfg, nil
}

// HandleRun 处理 POST /api/v1/workflows
//
// 默认同步运行并返回 WorkflowResult；async=true 时在后台运行并返回 202。
// 同步模式下客户端断开会取消工作流。
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.WorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	cfg, err := h.resolveRequest(&req)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	if req.Async {
		h.runAsync(w, r, req, cfg)
		return
	}

	result, err := h.svc.ExecuteWorkflowWithConfig(r.Context(), req.Goal, req.Context, cfg, nil)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, result)
}

func (h *WorkflowHandler) runAsync(w http.ResponseWriter, r *http.Request, req api.WorkflowRequest, cfg types.WorkflowConfig) {
	started := make(chan string, 1)
	failed := make(chan error, 1)
	progress := func(p orchestrator.Progress) {
		if p.Phase == orchestrator.PhaseStarted {
			select {
			case started <- p.WorkflowID:
			default:
			}
		}
	}

	// 后台工作流不随请求结束而取消，只能通过 DELETE 取消
	bg := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.svc.ExecuteWorkflowWithConfig(bg, req.Goal, req.Context, cfg, progress); err != nil {
			failed <- err
		}
	}()

	select {
	case id := <-started:
		h.logger.Info("workflow accepted", zap.String("workflow_id", id))
		WriteStatus(w, http.StatusAccepted, api.WorkflowAccepted{
			WorkflowID: id,
			StatusURL:  "/api/v1/workflows/" + id,
		})
	case err := <-failed:
		WriteErr(w, err, h.logger)
	case <-r.Context().Done():
	}
}

// HandleList 处理 GET /api/v1/workflows
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.WorkflowList{
		Active: h.svc.GetActiveWorkflows(),
		Recent: h.svc.GetRecentWorkflows(),
	})
}

// HandleGet 处理 GET /api/v1/workflows/{id}
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, ok := h.svc.GetWorkflow(id)
	if !ok {
		WriteError(w, types.NewError(types.ErrWorkflowNotFound, fmt.Sprintf("workflow %s not found", id)), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleCancel 处理 DELETE /api/v1/workflows/{id}
func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.svc.CancelWorkflow(id) {
		WriteSuccess(w, api.CancelResponse{ID: id, Cancelled: true})
		return
	}
	if _, ok := h.svc.GetWorkflow(id); ok {
		WriteError(w, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("workflow %s has already finished", id)).
			WithHTTPStatus(http.StatusConflict), h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrWorkflowNotFound, fmt.Sprintf("workflow %s not found", id)), h.logger)
}
