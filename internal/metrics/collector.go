package metrics

import (
	"time"

	"github.com/alicevoice/agentcore/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	httpRateLimited     *prometheus.CounterVec

	// 工具指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// 执行器指标
	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	actionRetries  *prometheus.CounterVec
	plansTotal     *prometheus.CounterVec
	planDuration   *prometheus.HistogramVec

	// 工作流指标
	workflowsTotal     *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec
	workflowIterations *prometheus.HistogramVec
	activeWorkflows    prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Total number of HTTP requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	// 工具指标
	c.toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "result"},
	)

	c.toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"tool"},
	)

	// 执行器指标
	c.actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Total number of finished plan actions",
		},
		[]string{"tool", "status"},
	)

	c.actionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Plan action duration in seconds, retries included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)

	c.actionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_retries_total",
			Help:      "Total number of action retries",
		},
		[]string{"tool"},
	)

	c.plansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_executions_total",
			Help:      "Total number of plan executions",
		},
		[]string{"status"},
	)

	c.planDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_execution_duration_seconds",
			Help:      "Plan execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// 工作流指标
	c.workflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of finished workflows",
		},
		[]string{"status"},
	)

	c.workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	c.workflowIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_iterations",
			Help:      "Number of iterations per finished workflow",
			Buckets:   []float64{0, 1, 2, 3, 5, 8},
		},
		[]string{"status"},
	)

	c.activeWorkflows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workflows",
			Help:      "Number of running workflows",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordRateLimited 记录被限流拒绝的请求
func (c *Collector) RecordRateLimited(path string) {
	c.httpRateLimited.WithLabelValues(path).Inc()
}

// =============================================================================
// 🔧 工具与执行器指标记录
// =============================================================================

// RecordToolCall implements tools.Metrics.
func (c *Collector) RecordToolCall(tool string, ok bool, code types.ErrorCode, duration time.Duration) {
	result := "ok"
	if !ok {
		result = string(code)
		if result == "" {
			result = string(types.ErrToolFailure)
		}
	}
	c.toolCallsTotal.WithLabelValues(tool, result).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordAction implements executor.MetricsRecorder.
func (c *Collector) RecordAction(tool string, status types.ActionStatus, retries int, duration time.Duration) {
	c.actionsTotal.WithLabelValues(tool, string(status)).Inc()
	c.actionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if retries > 0 {
		c.actionRetries.WithLabelValues(tool).Add(float64(retries))
	}
}

// RecordPlan implements executor.MetricsRecorder.
func (c *Collector) RecordPlan(status types.ExecutionStatus, duration time.Duration) {
	c.plansTotal.WithLabelValues(string(status)).Inc()
	c.planDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// =============================================================================
// 🔁 工作流指标记录
// =============================================================================

// RecordWorkflow implements orchestrator.MetricsRecorder.
func (c *Collector) RecordWorkflow(status types.WorkflowStatus, iterations int, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(string(status)).Inc()
	c.workflowDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	c.workflowIterations.WithLabelValues(string(status)).Observe(float64(iterations))
}

// SetActiveWorkflows implements orchestrator.MetricsRecorder.
func (c *Collector) SetActiveWorkflows(n int) {
	c.activeWorkflows.Set(float64(n))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
