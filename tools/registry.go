package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alicevoice/agentcore/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Category groups tools by the assistant capability they serve.
type Category string

const (
	CategoryEmail    Category = "email"
	CategoryCalendar Category = "calendar"
	CategoryMusic    Category = "music"
	CategoryFiles    Category = "files"
	CategorySystem   Category = "system"
)

// RateLimitConfig defines a token bucket for one tool.
type RateLimitConfig struct {
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

// ToolSpec describes a tool to the planner and the registry.
type ToolSpec struct {
	Name        string         `json:"name"`
	Category    Category       `json:"category"`
	Description string         `json:"description"`
	Keywords    []string       `json:"keywords,omitempty"`
	DefaultArgs map[string]any `json:"default_args,omitempty"`
	// Always marks tools that are planned whenever their category matches.
	Always bool `json:"always,omitempty"`
	// Default marks the tool planned when no keyword in the category selects one.
	Default bool `json:"default,omitempty"`
	// Fallback names an alternative tool in the same category.
	Fallback string `json:"fallback,omitempty"`
	// FallbackOnly tools are never planned directly, only as substitutes.
	FallbackOnly bool             `json:"fallback_only,omitempty"`
	RateLimit    *RateLimitConfig `json:"rate_limit,omitempty"`
}

// Handler implements a tool. Expected failures return OK=false;
// a non-nil error is treated as an unexpected failure.
type Handler func(ctx context.Context, args map[string]any) (types.ToolResult, error)

type entry struct {
	spec    ToolSpec
	handler Handler
	limiter *rate.Limiter
}

// Metrics receives one measurement per tool call. internal/metrics.Collector implements it.
type Metrics interface {
	RecordToolCall(tool string, ok bool, code types.ErrorCode, duration time.Duration)
}

// Registry is a concurrency-safe tool registry. It implements types.ToolInvoker.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*entry
	order   []string
	logger  *zap.Logger
	metrics Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
}

// SetMetrics sets the recorder for tool calls.
func (r *Registry) SetMetrics(m Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(spec ToolSpec, handler Handler) error {
	if spec.Name == "" {
		return types.NewError(types.ErrInvalidRequest, "tool name is required")
	}
	if handler == nil {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("tool %s has no handler", spec.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("tool %s already registered", spec.Name))
	}

	e := &entry{spec: spec, handler: handler}
	if spec.RateLimit != nil && spec.RateLimit.RPS > 0 {
		burst := spec.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(spec.RateLimit.RPS), burst)
	}

	r.tools[spec.Name] = e
	r.order = append(r.order, spec.Name)

	r.logger.Info("tool registered",
		zap.String("name", spec.Name),
		zap.String("category", string(spec.Category)),
	)
	return nil
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %s not found", name))
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("tool unregistered", zap.String("name", name))
	return nil
}

// Get returns the spec of a registered tool.
func (r *Registry) Get(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return ToolSpec{}, false
	}
	return e.spec, true
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Catalog returns the registered specs in registration order.
func (r *Registry) Catalog() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].spec)
	}
	return out
}

// ExecuteTool invokes a registered tool. It never panics and never returns
// an error: every failure is reported as OK=false.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any) types.ToolResult {
	start := time.Now()

	r.mu.RLock()
	e, ok := r.tools[name]
	m := r.metrics
	r.mu.RUnlock()

	res := r.execute(ctx, name, e, ok, args, start)
	if m != nil {
		m.RecordToolCall(name, res.OK, res.Code, time.Since(start))
	}
	return res
}

func (r *Registry) execute(ctx context.Context, name string, e *entry, ok bool, args map[string]any, start time.Time) (result types.ToolResult) {
	if !ok {
		r.logger.Warn("tool not found", zap.String("name", name))
		return types.ToolResult{OK: false, Message: fmt.Sprintf("tool not found: %s", name), Code: types.ErrToolNotFound}
	}

	if e.limiter != nil && !e.limiter.Allow() {
		r.logger.Warn("tool rate limit exceeded", zap.String("name", name))
		return types.ToolResult{OK: false, Message: fmt.Sprintf("rate limit exceeded for tool %s", name), Code: types.ErrRateLimited}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", zap.String("name", name), zap.Any("panic", rec))
			result = types.ToolResult{OK: false, Message: fmt.Sprintf("tool %s panicked: %v", name, rec), Code: types.ErrToolFailure}
		}
	}()

	res, err := e.handler(ctx, mergeArgs(e.spec.DefaultArgs, args))
	if err != nil {
		r.logger.Error("tool execution failed",
			zap.String("name", name),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		code := types.GetErrorCode(err)
		if code == "" {
			code = types.ErrToolFailure
		}
		return types.ToolResult{OK: false, Message: err.Error(), Code: code}
	}
	if !res.OK && res.Code == "" {
		res.Code = types.ErrToolFailure
	}

	r.logger.Debug("tool executed",
		zap.String("name", name),
		zap.Bool("ok", res.OK),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

// mergeArgs overlays call arguments on top of the tool's defaults.
func mergeArgs(defaults, args map[string]any) map[string]any {
	if len(defaults) == 0 {
		return args
	}
	out := make(map[string]any, len(defaults)+len(args))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range args {
		out[k] = v
	}
	return out
}
