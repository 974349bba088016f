package types

import "context"

// ToolResult is the outcome of a single tool invocation.
// Expected failures are reported with OK=false rather than an error.
type ToolResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	// Code optionally classifies a failure, e.g. ErrToolNotFound or ErrRateLimited.
	Code ErrorCode `json:"code,omitempty"`
}

// ToolSuccess builds a successful result.
func ToolSuccess(message string, data any) ToolResult {
	return ToolResult{OK: true, Message: message, Data: data}
}

// ToolFailure builds a failed result.
func ToolFailure(message string) ToolResult {
	return ToolResult{OK: false, Message: message}
}

// ToolInvoker is the single capability the core consumes from its environment.
type ToolInvoker interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) ToolResult
}

// ToolInvokerFunc adapts a function to ToolInvoker.
type ToolInvokerFunc func(ctx context.Context, name string, args map[string]any) ToolResult

// ExecuteTool implements ToolInvoker.
func (f ToolInvokerFunc) ExecuteTool(ctx context.Context, name string, args map[string]any) ToolResult {
	return f(ctx, name, args)
}
