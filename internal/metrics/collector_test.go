package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicevoice/agentcore/agent/executor"
	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/tools"
	"github.com/alicevoice/agentcore/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ executor.MetricsRecorder     = (*Collector)(nil)
	_ orchestrator.MetricsRecorder = (*Collector)(nil)
	_ tools.Metrics                = (*Collector)(nil)
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.toolCallsTotal)
	assert.NotNil(t, collector.actionsTotal)
	assert.NotNil(t, collector.plansTotal)
	assert.NotNil(t, collector.workflowsTotal)
	assert.NotNil(t, collector.activeWorkflows)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/api/v1/tools", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/tools", 204, 50*time.Millisecond, 512, 0)
	collector.RecordHTTPRequest("POST", "/api/v1/workflows", 503, 10*time.Millisecond, 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/tools", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/workflows", "5xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestDuration))

	collector.RecordRateLimited("/api/v1/workflows")
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRateLimited.WithLabelValues("/api/v1/workflows")))
}

func TestCollector_RecordToolCall(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordToolCall("email.list", true, "", 5*time.Millisecond)
	collector.RecordToolCall("email.send", false, types.ErrRateLimited, time.Millisecond)
	collector.RecordToolCall("email.send", false, "", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("email.list", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("email.send", "RATE_LIMITED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("email.send", "TOOL_FAILURE")))
}

func TestCollector_RecordExecution(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAction("music.play", types.ActionCompleted, 0, 20*time.Millisecond)
	collector.RecordAction("music.play", types.ActionFailed, 2, 40*time.Millisecond)
	collector.RecordPlan(types.ExecutionFailed, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.actionsTotal.WithLabelValues("music.play", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.actionsTotal.WithLabelValues("music.play", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.actionRetries.WithLabelValues("music.play")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.plansTotal.WithLabelValues("failed")))
}

func TestCollector_RecordWorkflow(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetActiveWorkflows(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.activeWorkflows))
	collector.SetActiveWorkflows(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.activeWorkflows))

	collector.RecordWorkflow(types.WorkflowCompleted, 2, 3*time.Second)
	collector.RecordWorkflow(types.WorkflowCancelled, 1, time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workflowsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workflowsTotal.WithLabelValues("cancelled")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.workflowIterations))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 16)
			collector.RecordToolCall("files.list", true, "", time.Millisecond)
			collector.RecordAction("files.list", types.ActionCompleted, 0, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.toolCallsTotal.WithLabelValues("files.list", "ok")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.actionsTotal.WithLabelValues("files.list", "completed")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()

	// collector 会自动注册到默认 registry
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	// 额外注册到自定义 registry
	require.NoError(t, registry.Register(collector.workflowsTotal))
	collector.RecordWorkflow(types.WorkflowFailed, 3, time.Second)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Contains(t, families[0].GetName(), "workflows_total")
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 500: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), "code %d", code)
	}
}
