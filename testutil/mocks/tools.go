// MockToolInvoker 的工具调用测试模拟实现。
//
// 支持按工具脚本化结果、失败序列、延迟与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/alicevoice/agentcore/types"
)

// --- MockToolInvoker 结构 ---

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) types.ToolResult

// ToolCall 记录单次工具调用
type ToolCall struct {
	Name       string
	Args       map[string]any
	Result     types.ToolResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// MockToolInvoker 是 types.ToolInvoker 的模拟实现
type MockToolInvoker struct {
	mu sync.Mutex

	funcs     map[string]ToolFunc
	sequences map[string][]types.ToolResult
	delays    map[string]time.Duration

	defaultResult *types.ToolResult

	calls         []ToolCall
	inFlight      int
	maxConcurrent int
}

// NewMockToolInvoker 创建新的 MockToolInvoker。未配置的工具返回 TOOL_NOT_FOUND。
func NewMockToolInvoker() *MockToolInvoker {
	return &MockToolInvoker{
		funcs:     make(map[string]ToolFunc),
		sequences: make(map[string][]types.ToolResult),
		delays:    make(map[string]time.Duration),
	}
}

// NewSucceedingInvoker 返回对任意工具都成功的 MockToolInvoker
func NewSucceedingInvoker() *MockToolInvoker {
	return NewMockToolInvoker().WithDefault(types.ToolSuccess("ok", nil))
}

// --- Builder 方法 ---

// WithFunc 使用自定义函数实现工具
func (m *MockToolInvoker) WithFunc(name string, fn ToolFunc) *MockToolInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[name] = fn
	return m
}

// WithResult 让工具始终返回 result
func (m *MockToolInvoker) WithResult(name string, result types.ToolResult) *MockToolInvoker {
	return m.WithSequence(name, result)
}

// WithFailure 让工具始终以 message 失败
func (m *MockToolInvoker) WithFailure(name, message string) *MockToolInvoker {
	return m.WithSequence(name, types.ToolFailure(message))
}

// WithSequence 依次返回 results，用尽后重复最后一个
func (m *MockToolInvoker) WithSequence(name string, results ...types.ToolResult) *MockToolInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[name] = append([]types.ToolResult(nil), results...)
	return m
}

// WithFlaky 让工具先失败 failures 次，然后成功
func (m *MockToolInvoker) WithFlaky(name string, failures int) *MockToolInvoker {
	results := make([]types.ToolResult, 0, failures+1)
	for i := 0; i < failures; i++ {
		results = append(results, types.ToolFailure("transient failure"))
	}
	results = append(results, types.ToolSuccess("ok", nil))
	return m.WithSequence(name, results...)
}

// WithDelay 让工具在返回前等待 d，ctx 取消时提前返回
func (m *MockToolInvoker) WithDelay(name string, d time.Duration) *MockToolInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[name] = d
	return m
}

// WithDefault 设置未配置工具的默认结果
func (m *MockToolInvoker) WithDefault(result types.ToolResult) *MockToolInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResult = &result
	return m
}

// --- ToolInvoker 实现 ---

// ExecuteTool 实现 types.ToolInvoker
func (m *MockToolInvoker) ExecuteTool(ctx context.Context, name string, args map[string]any) types.ToolResult {
	started := time.Now()

	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxConcurrent {
		m.maxConcurrent = m.inFlight
	}
	delay := m.delays[name]
	fn := m.funcs[name]
	m.mu.Unlock()

	result := m.resolve(ctx, name, args, fn, delay)

	m.mu.Lock()
	m.inFlight--
	m.calls = append(m.calls, ToolCall{
		Name:       name,
		Args:       args,
		Result:     result,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	m.mu.Unlock()
	return result
}

func (m *MockToolInvoker) resolve(ctx context.Context, name string, args map[string]any, fn ToolFunc, delay time.Duration) types.ToolResult {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return types.ToolResult{OK: false, Message: ctx.Err().Error(), Code: types.ErrTimeout}
		case <-timer.C:
		}
	}

	if fn != nil {
		return fn(ctx, args)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq, ok := m.sequences[name]; ok && len(seq) > 0 {
		res := seq[0]
		if len(seq) > 1 {
			m.sequences[name] = seq[1:]
		}
		return res
	}
	if m.defaultResult != nil {
		return *m.defaultResult
	}
	return types.ToolResult{OK: false, Message: "tool not found: " + name, Code: types.ErrToolNotFound}
}

// --- 调用记录 ---

// GetCalls 返回所有调用记录（按完成顺序）
func (m *MockToolInvoker) GetCalls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolCall(nil), m.calls...)
}

// GetCallCount 返回调用总次数
func (m *MockToolInvoker) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetCallsForTool 返回指定工具的调用记录
func (m *MockToolInvoker) GetCallsForTool(name string) []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ToolCall
	for _, c := range m.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrent 返回观察到的最大并发调用数
func (m *MockToolInvoker) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// Reset 清空调用记录
func (m *MockToolInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.maxConcurrent = 0
}
