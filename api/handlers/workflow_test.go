package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicevoice/agentcore/agent/critic"
	"github.com/alicevoice/agentcore/agent/executor"
	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/agent/planner"
	"github.com/alicevoice/agentcore/api"
	"github.com/alicevoice/agentcore/testutil/mocks"
	"github.com/alicevoice/agentcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// 规划为 music.play 与 calendar.list 两个独立动作
const twoToolGoal = "spela musik och visa kalendern"

type stack struct {
	inv  *mocks.MockToolInvoker
	exec *executor.Executor
	orch *orchestrator.Orchestrator
	mux  *http.ServeMux
}

func newStack(t *testing.T, inv *mocks.MockToolInvoker) *stack {
	t.Helper()
	cfg := executor.DefaultConfig()
	cfg.DefaultActionTimeout = 2 * time.Second
	exec := executor.New(inv, cfg, zap.NewNop())
	orch := orchestrator.New(planner.NewDefault(nil), exec, critic.New(critic.DefaultConfig()), orchestrator.DefaultConfig(), zap.NewNop())

	wh := NewWorkflowHandler(orch, zap.NewNop())
	eh := NewExecutionHandler(exec, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows", wh.HandleRun)
	mux.HandleFunc("GET /api/v1/workflows", wh.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", wh.HandleGet)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", wh.HandleCancel)
	mux.Handle("GET /api/v1/workflows/stream", NewStreamHandler(orch, DefaultStreamOptions(), zap.NewNop()))
	mux.HandleFunc("GET /api/v1/executions", eh.HandleList)
	mux.HandleFunc("GET /api/v1/executions/{plan_id}", eh.HandleGet)
	mux.HandleFunc("DELETE /api/v1/executions/{plan_id}", eh.HandleCancel)
	mux.HandleFunc("POST /api/v1/executions/{plan_id}/actions/{action_id}/retry", eh.HandleRetry)

	return &stack{inv: inv, exec: exec, orch: orch, mux: mux}
}

func (s *stack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, r)
	return w
}

// decodeData 解码 Response.Data 到 dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return raw.Response
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// 🧪 WorkflowHandler 测试
// =============================================================================

func TestWorkflowHandler_RunSync(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker())

	w := s.do(t, http.MethodPost, "/api/v1/workflows", api.WorkflowRequest{Goal: twoToolGoal})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result types.WorkflowResult
	resp := decodeData(t, w, &result)
	assert.True(t, resp.Success)
	assert.Equal(t, types.WorkflowCompleted, result.Status)
	assert.True(t, result.Success)
	assert.Len(t, result.Iterations, 1)
	assert.Equal(t, twoToolGoal, result.OriginalGoal)

	w = s.do(t, http.MethodGet, "/api/v1/workflows/"+result.WorkflowID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list api.WorkflowList
	decodeData(t, s.do(t, http.MethodGet, "/api/v1/workflows", nil), &list)
	assert.Empty(t, list.Active)
	assert.Equal(t, []string{result.WorkflowID}, list.Recent)
}

func TestWorkflowHandler_RunWithOverride(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker().WithFailure("music.play", "speaker offline"))

	w := s.do(t, http.MethodPost, "/api/v1/workflows", api.WorkflowRequest{
		Goal: twoToolGoal,
		Config: &api.WorkflowConfigOverride{
			MaxIterations: ptr(2),
			AutoImprove:   ptr(false),
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result types.WorkflowResult
	decodeData(t, w, &result)
	assert.Equal(t, types.WorkflowFailed, result.Status)
	assert.Len(t, result.Iterations, 1, "auto improve disabled stops after the first iteration")
}

func TestWorkflowHandler_RunRejectsInvalid(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker())

	tests := []struct {
		name string
		body any
		code types.ErrorCode
	}{
		{"missing goal", api.WorkflowRequest{}, types.ErrInvalidRequest},
		{"bad iterations", api.WorkflowRequest{Goal: "x", Config: &api.WorkflowConfigOverride{MaxIterations: ptr(0)}}, types.ErrInvalidConfig},
		{"bad strategy", api.WorkflowRequest{Goal: "x", Config: &api.WorkflowConfigOverride{ImprovementStrategy: ptr(types.ImprovementStrategy("guess"))}}, types.ErrInvalidConfig},
		{"unknown field", map[string]any{"goal": "x", "priority": 1}, types.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/workflows", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeData(t, w, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
		})
	}
	assert.Zero(t, s.inv.GetCallCount())
}

func TestWorkflowHandler_RunRequiresJSON(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", bytes.NewBufferString(`{"goal":"x"}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestWorkflowHandler_AsyncAndCancel(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker().WithDelay("music.play", 500*time.Millisecond))

	w := s.do(t, http.MethodPost, "/api/v1/workflows", api.WorkflowRequest{Goal: twoToolGoal, Async: true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var accepted api.WorkflowAccepted
	decodeData(t, w, &accepted)
	require.NotEmpty(t, accepted.WorkflowID)
	assert.Equal(t, "/api/v1/workflows/"+accepted.WorkflowID, accepted.StatusURL)

	var list api.WorkflowList
	decodeData(t, s.do(t, http.MethodGet, "/api/v1/workflows", nil), &list)
	assert.Contains(t, list.Active, accepted.WorkflowID)

	w = s.do(t, http.MethodDelete, "/api/v1/workflows/"+accepted.WorkflowID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cancel api.CancelResponse
	decodeData(t, w, &cancel)
	assert.True(t, cancel.Cancelled)

	require.Eventually(t, func() bool {
		res, ok := s.orch.GetWorkflow(accepted.WorkflowID)
		return ok && res.Status.IsTerminal()
	}, 3*time.Second, 10*time.Millisecond)

	var result types.WorkflowResult
	decodeData(t, s.do(t, http.MethodGet, "/api/v1/workflows/"+accepted.WorkflowID, nil), &result)
	assert.Equal(t, types.WorkflowCancelled, result.Status)
	assert.False(t, result.Success)

	w = s.do(t, http.MethodDelete, "/api/v1/workflows/"+accepted.WorkflowID, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "finished workflows cannot be cancelled")
}

func TestWorkflowHandler_NotFound(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker())

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := s.do(t, method, "/api/v1/workflows/does-not-exist", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, method)
		resp := decodeData(t, w, nil)
		assert.Equal(t, string(types.ErrWorkflowNotFound), resp.Error.Code)
	}
}
