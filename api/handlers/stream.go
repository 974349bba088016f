package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/api"
	"github.com/alicevoice/agentcore/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 WebSocket 进度流
// =============================================================================

// StreamOptions 配置 WebSocket 进度流
type StreamOptions struct {
	// OriginPatterns 允许的跨域来源，为空时只接受同源请求
	OriginPatterns []string
	// RequestTimeout 等待客户端首条请求的时间
	RequestTimeout time.Duration
	// WriteTimeout 单条消息写入超时
	WriteTimeout time.Duration
	// IncludeActionUpdates 是否推送每个动作完成时的执行进度
	IncludeActionUpdates bool
}

// DefaultStreamOptions 返回默认选项
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		RequestTimeout:       10 * time.Second,
		WriteTimeout:         5 * time.Second,
		IncludeActionUpdates: true,
	}
}

// StreamHandler 通过 WebSocket 运行工作流并推送进度
//
// 协议：客户端连接后发送一条 api.WorkflowRequest，服务端依次推送
// type=progress 的消息，最后推送一条 type=result（或 type=error）并正常关闭。
// 客户端提前断开会取消工作流。
type StreamHandler struct {
	workflows *WorkflowHandler
	opts      StreamOptions
	logger    *zap.Logger
}

// NewStreamHandler 创建进度流处理器
func NewStreamHandler(svc WorkflowService, opts StreamOptions, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultStreamOptions()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	return &StreamHandler{
		workflows: NewWorkflowHandler(svc, logger),
		opts:      opts,
		logger:    logger.With(zap.String("component", "stream_handler")),
	}
}

// ServeHTTP 处理 GET /api/v1/workflows/stream
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	readCtx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	var req api.WorkflowRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.logger.Debug("failed to read stream request", zap.Error(err))
		h.closeWithError(r.Context(), conn, types.NewError(types.ErrInvalidRequest, "expected a workflow request"))
		return
	}

	cfg, err := h.workflows.resolveRequest(&req)
	if err != nil {
		apiErr, ok := types.AsError(err)
		if !ok {
			apiErr = types.NewError(types.ErrInvalidRequest, err.Error())
		}
		h.closeWithError(r.Context(), conn, apiErr)
		return
	}

	// CloseRead 在客户端断开时取消 ctx，从而取消工作流
	ctx, stop := context.WithCancel(conn.CloseRead(r.Context()))
	defer stop()

	progress := func(p orchestrator.Progress) {
		if p.Phase == orchestrator.PhaseExecuting && !h.opts.IncludeActionUpdates {
			return
		}
		if err := h.write(ctx, conn, api.StreamMessage{Type: api.StreamProgress, Progress: &p}); err != nil {
			h.logger.Debug("progress write failed, cancelling workflow", zap.String("workflow_id", p.WorkflowID), zap.Error(err))
			stop()
		}
	}

	result, err := h.workflows.svc.ExecuteWorkflowWithConfig(ctx, req.Goal, req.Context, cfg, progress)
	if err != nil {
		apiErr, ok := types.AsError(err)
		if !ok {
			apiErr = types.NewError(types.ErrInternalError, "workflow failed to start")
		}
		h.closeWithError(r.Context(), conn, apiErr)
		return
	}
	if ctx.Err() != nil {
		// 客户端已断开
		return
	}

	if err := h.write(r.Context(), conn, api.StreamMessage{Type: api.StreamResult, Result: result}); err != nil {
		h.logger.Debug("result write failed", zap.String("workflow_id", result.WorkflowID), zap.Error(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, string(result.Status))
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, msg api.StreamMessage) error {
	msg.Timestamp = time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (h *StreamHandler) closeWithError(ctx context.Context, conn *websocket.Conn, apiErr *types.Error) {
	if err := h.write(ctx, conn, api.StreamMessage{Type: api.StreamError, Error: apiErr}); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("error write failed", zap.Error(err))
	}
	conn.Close(websocket.StatusPolicyViolation, string(apiErr.Code))
}
