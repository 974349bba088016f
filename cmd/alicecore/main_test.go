package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/alicevoice/agentcore/internal/eventbus"
	"github.com/alicevoice/agentcore/tools"
	"github.com/alicevoice/agentcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "alicecore "+Version)
	assert.Contains(t, out, "Git Commit: "+GitCommit)
}

func TestToolsCommand(t *testing.T) {
	out, err := execute(t, "tools", "--json", "--category", "music")
	require.NoError(t, err)

	var specs []tools.ToolSpec
	require.NoError(t, json.Unmarshal([]byte(out), &specs))
	require.NotEmpty(t, specs)
	for _, s := range specs {
		assert.Equal(t, tools.CategoryMusic, s.Category)
	}

	out, err = execute(t, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "calendar.list")
}

func TestToolsCommand_DisabledFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  disabled: [calendar.list]\n"), 0o600))

	out, err := execute(t, "--config", path, "tools")
	require.NoError(t, err)
	assert.NotContains(t, out, "calendar.list")
	assert.Contains(t, out, "music.play")
}

func TestRunCommand_JSON(t *testing.T) {
	out, err := execute(t, "run", "--json", "-q", "spela", "musik")
	require.NoError(t, err)

	var result types.WorkflowResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, types.WorkflowCompleted, result.Status)
	assert.Equal(t, "spela musik", result.OriginalGoal)
}

func TestRunCommand_Summary(t *testing.T) {
	out, err := execute(t, "run", "-q", "visa kalendern")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "calendar.list")
}

func TestRunCommand_InvalidOverride(t *testing.T) {
	_, err := execute(t, "run", "--max-iterations", "0", "spela musik")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestRunCommand_RequiresGoal(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)
}

// lockedBuffer 供订阅 goroutine 并发写入
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEventsCommand_FiltersByWorkflow(t *testing.T) {
	mr := miniredis.RunT(t)
	channel := eventbus.DefaultRedisConfig().Channel

	out := &lockedBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"events", "--redis-addr", mr.Addr(), "--workflow", "wf-2"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 1
	}, 5*time.Second, 10*time.Millisecond, "events command never subscribed")

	pub, err := eventbus.NewRedisBus(eventbus.RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Publish(ctx, eventbus.Event{Type: eventbus.TypeWorkflowStarted, WorkflowID: "wf-1"}))
	require.NoError(t, pub.Publish(ctx, eventbus.Event{Type: eventbus.TypeWorkflowFinished, WorkflowID: "wf-2", Status: "completed"}))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "wf-2")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("events command did not stop on cancel")
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	var ev eventbus.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, eventbus.TypeWorkflowFinished, ev.Type)
	assert.Equal(t, "completed", ev.Status)
}

func TestEventsCommand_RedisUnavailable(t *testing.T) {
	_, err := execute(t, "events", "--redis-addr", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect event bus")
}
