package handlers

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 就绪检查（如 Redis 事件总线连通性）
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CoreStats 就绪响应中附带的 Agent Core 运行概况
type CoreStats struct {
	ActiveWorkflows  int `json:"active_workflows"`
	ActiveExecutions int `json:"active_executions"`
	Tools            int `json:"tools"`
}

// HealthStatus /health 与 /ready 响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy / unhealthy / draining
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Core      *CoreStats             `json:"core,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass / fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// VersionInfo /version 响应
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDraining  = "draining"

	// readyTimeout 所有就绪检查的总超时
	readyTimeout = 5 * time.Second
)

// HealthHandler 存活 / 就绪 / 版本端点
type HealthHandler struct {
	logger *zap.Logger

	mu     sync.RWMutex
	checks []HealthCheck
	stats  func() CoreStats

	draining atomic.Bool
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health_handler")),
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// SetStatsProvider 设置 /ready 中 core 字段的数据来源
func (h *HealthHandler) SetStatsProvider(fn func() CoreStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = fn
}

// SetDraining 标记服务正在关闭。之后 /ready 固定返回 503，负载均衡器据此摘流。
func (h *HealthHandler) SetDraining(v bool) {
	h.draining.Store(v)
}

// HandleHealth 存活检查，只确认进程在运行
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
	})
}

// HandleReady 并发运行所有就绪检查，任一失败返回 503
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	stats := h.stats
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	if stats != nil {
		s := stats()
		status.Core = &s
	}
	if h.draining.Load() {
		status.Status = statusDraining
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	results := make([]CheckResult, len(checks))
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	// 检查失败记录在结果里，不通过 errgroup 的错误中断其他检查
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			results[i] = CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", check.Name()),
					zap.Error(err),
					zap.Duration("latency", latency),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			status.Status = statusUnhealthy
		}
	}

	if status.Status != statusHealthy {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 返回 /version 处理函数
func (h *HealthHandler) HandleVersion(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// PingCheck 以 ping 函数实现的就绪检查
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 PingCheck
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
