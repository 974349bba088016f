package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/api"
	"github.com/alicevoice/agentcore/testutil/mocks"
	"github.com/alicevoice/agentcore/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStream(t *testing.T, s *stack) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(s.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workflows/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func TestStreamHandler_ProgressThenResult(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker())
	conn, ctx := dialStream(t, s)

	require.NoError(t, wsjson.Write(ctx, conn, api.WorkflowRequest{Goal: twoToolGoal}))

	var phases []orchestrator.Phase
	var final *types.WorkflowResult
	for final == nil {
		var msg api.StreamMessage
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		switch msg.Type {
		case api.StreamProgress:
			require.NotNil(t, msg.Progress)
			phases = append(phases, msg.Progress.Phase)
		case api.StreamResult:
			final = msg.Result
		default:
			t.Fatalf("unexpected message type %q", msg.Type)
		}
	}

	require.NotEmpty(t, phases)
	assert.Equal(t, orchestrator.PhaseStarted, phases[0])
	assert.Equal(t, orchestrator.PhaseFinished, phases[len(phases)-1])
	assert.Contains(t, phases, orchestrator.PhaseExecuting, "action updates are streamed")
	assert.Equal(t, types.WorkflowCompleted, final.Status)

	var extra api.StreamMessage
	err := wsjson.Read(ctx, conn, &extra)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestStreamHandler_InvalidRequest(t *testing.T) {
	s := newStack(t, mocks.NewSucceedingInvoker())
	conn, ctx := dialStream(t, s)

	require.NoError(t, wsjson.Write(ctx, conn, api.WorkflowRequest{}))

	var msg api.StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, api.StreamError, msg.Type)
	require.NotNil(t, msg.Error)
	assert.Equal(t, types.ErrInvalidRequest, msg.Error.Code)

	err := wsjson.Read(ctx, conn, &msg)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Zero(t, s.inv.GetCallCount())
}

func TestStreamHandler_DisconnectCancelsWorkflow(t *testing.T) {
	started := make(chan struct{}, 1)
	inv := mocks.NewSucceedingInvoker().WithFunc("music.play", func(ctx context.Context, _ map[string]any) types.ToolResult {
		started <- struct{}{}
		time.Sleep(100 * time.Millisecond)
		return types.ToolSuccess("playing", nil)
	})
	s := newStack(t, inv)
	conn, ctx := dialStream(t, s)

	require.NoError(t, wsjson.Write(ctx, conn, api.WorkflowRequest{Goal: "spela musik, därefter läs mejlen"}))
	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("music.play never started")
	}
	conn.Close(websocket.StatusGoingAway, "bye")

	require.Eventually(t, func() bool {
		recent := s.orch.GetRecentWorkflows()
		if len(recent) == 0 {
			return false
		}
		res, ok := s.orch.GetWorkflow(recent[0])
		return ok && res.Status == types.WorkflowCancelled
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, inv.GetCallsForTool("email.list"))
}
