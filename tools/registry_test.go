package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicevoice/agentcore/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, args map[string]any) (types.ToolResult, error) {
	return types.ToolSuccess("ok", args), nil
}

func TestRegistry_RegisterAndCatalogOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	require.NoError(t, r.Register(ToolSpec{Name: "b", Category: CategoryFiles}, echoHandler))
	require.NoError(t, r.Register(ToolSpec{Name: "a", Category: CategoryEmail}, echoHandler))

	catalog := r.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "b", catalog[0].Name)
	assert.Equal(t, "a", catalog[1].Name)
	assert.True(t, r.Has("a"))
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	err := r.Register(ToolSpec{}, echoHandler)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	err = r.Register(ToolSpec{Name: "x"}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	require.NoError(t, r.Register(ToolSpec{Name: "x"}, echoHandler))
	err = r.Register(ToolSpec{Name: "x"}, echoHandler)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(ToolSpec{Name: "a"}, echoHandler))
	require.NoError(t, r.Register(ToolSpec{Name: "b"}, echoHandler))

	require.NoError(t, r.Unregister("a"))
	assert.False(t, r.Has("a"))
	assert.Len(t, r.Catalog(), 1)

	err := r.Unregister("a")
	assert.True(t, types.IsErrorCode(err, types.ErrToolNotFound))
}

func TestRegistry_ExecuteTool_NotFound(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	res := r.ExecuteTool(context.Background(), "missing", nil)
	assert.False(t, res.OK)
	assert.Equal(t, types.ErrToolNotFound, res.Code)
	assert.Contains(t, res.Message, "missing")
}

func TestRegistry_ExecuteTool_MergesDefaultArgs(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(ToolSpec{
		Name:        "email.list",
		DefaultArgs: map[string]any{"limit": 10, "folder": "inbox"},
	}, echoHandler))

	res := r.ExecuteTool(context.Background(), "email.list", map[string]any{"limit": 3})
	require.True(t, res.OK)
	args := res.Data.(map[string]any)
	assert.Equal(t, 3, args["limit"])
	assert.Equal(t, "inbox", args["folder"])
}

func TestRegistry_ExecuteTool_Failures(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	require.NoError(t, r.Register(ToolSpec{Name: "soft"}, func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
		return types.ToolFailure("mailbox unavailable"), nil
	}))
	require.NoError(t, r.Register(ToolSpec{Name: "hard"}, func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
		return types.ToolResult{}, errors.New("connection reset")
	}))
	require.NoError(t, r.Register(ToolSpec{Name: "timeout"}, func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
		return types.ToolResult{}, types.NewError(types.ErrTimeout, "upstream timed out")
	}))
	require.NoError(t, r.Register(ToolSpec{Name: "panics"}, func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
		panic("boom")
	}))

	tests := []struct {
		tool    string
		code    types.ErrorCode
		message string
	}{
		{"soft", types.ErrToolFailure, "mailbox unavailable"},
		{"hard", types.ErrToolFailure, "connection reset"},
		{"timeout", types.ErrTimeout, "upstream timed out"},
		{"panics", types.ErrToolFailure, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res := r.ExecuteTool(context.Background(), tt.tool, nil)
			assert.False(t, res.OK)
			assert.Equal(t, tt.code, res.Code)
			assert.Contains(t, res.Message, tt.message)
		})
	}
}

func TestRegistry_ExecuteTool_RateLimit(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(ToolSpec{
		Name:      "email.send",
		RateLimit: &RateLimitConfig{RPS: 0.001, Burst: 2},
	}, echoHandler))

	ctx := context.Background()
	assert.True(t, r.ExecuteTool(ctx, "email.send", nil).OK)
	assert.True(t, r.ExecuteTool(ctx, "email.send", nil).OK)

	res := r.ExecuteTool(ctx, "email.send", nil)
	assert.False(t, res.OK)
	assert.Equal(t, types.ErrRateLimited, res.Code)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	require.NoError(t, r.Register(ToolSpec{Name: "echo"}, echoHandler))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, r.ExecuteTool(context.Background(), "echo", nil).OK)
			_ = r.Catalog()
		}()
	}
	wg.Wait()
}

func TestRegisterCatalog(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)

	err := r.RegisterCatalog(DefaultCatalog(), map[string]Handler{
		"email.list": echoHandler,
	})
	require.NoError(t, err)

	// Only tools with handlers are registered; inspect gets the builtin.
	assert.True(t, r.Has("email.list"))
	assert.True(t, r.Has(InspectTool))
	assert.False(t, r.Has("email.send"))

	res := r.ExecuteTool(context.Background(), InspectTool, map[string]any{"goal": "hej"})
	require.True(t, res.OK)
	data := res.Data.(map[string]any)
	assert.Equal(t, "hej", data["goal"])
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()
	catalog := DefaultCatalog()
	names := make(map[string]ToolSpec, len(catalog))
	for _, spec := range catalog {
		_, dup := names[spec.Name]
		require.False(t, dup, "duplicate tool %s", spec.Name)
		names[spec.Name] = spec
	}

	for _, spec := range catalog {
		if spec.Fallback == "" {
			continue
		}
		fb, ok := names[spec.Fallback]
		require.True(t, ok, "fallback %s of %s missing", spec.Fallback, spec.Name)
		assert.Equal(t, spec.Category, fb.Category)
	}

	keywords := CategoryKeywords()
	for _, c := range []Category{CategoryEmail, CategoryCalendar, CategoryMusic, CategoryFiles} {
		assert.NotEmpty(t, keywords[c], "category %s", c)
	}
	assert.Contains(t, names, InspectTool)
}

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callRecorder) RecordToolCall(tool string, ok bool, code types.ErrorCode, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := "ok"
	if !ok {
		status = string(code)
	}
	c.calls = append(c.calls, tool+":"+status)
}

func TestRegistry_RecordsMetrics(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	rec := &callRecorder{}
	r.SetMetrics(rec)
	require.NoError(t, r.Register(ToolSpec{Name: "echo"}, echoHandler))

	r.ExecuteTool(context.Background(), "echo", nil)
	r.ExecuteTool(context.Background(), "missing", nil)

	assert.Equal(t, []string{"echo:ok", "missing:TOOL_NOT_FOUND"}, rec.calls)
}
