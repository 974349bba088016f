package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/alicevoice/agentcore/types"
	"go.uber.org/zap"
)

// HookKind identifies the point in an execution at which a hook runs.
type HookKind int

const (
	HookBeforeAction HookKind = iota
	HookAfterAction
	HookError
	HookPlanComplete
)

// String returns the wire name of the hook kind.
func (k HookKind) String() string {
	switch k {
	case HookBeforeAction:
		return "before_action"
	case HookAfterAction:
		return "after_action"
	case HookError:
		return "on_error"
	case HookPlanComplete:
		return "on_plan_complete"
	}
	return fmt.Sprintf("hook(%d)", int(k))
}

// HookID identifies a registered hook for removal.
type HookID uint64

// BeforeActionHook runs before the tool of an action is invoked.
type BeforeActionHook func(ctx context.Context, action types.Action, execCtx map[string]any) error

// AfterActionHook runs after an action reached a terminal state. result is a copy.
type AfterActionHook func(ctx context.Context, action types.Action, result *types.ActionResult) error

// ErrorHook runs when an action failed.
type ErrorHook func(ctx context.Context, action types.Action, err error) error

// PlanCompleteHook runs exactly once per execution. report is a copy.
type PlanCompleteHook func(ctx context.Context, report *types.ExecutionReport) error

type hookEntry struct {
	id HookID
	fn any
}

// hookRegistry 按类型保存钩子，调用时复制快照，避免持锁执行用户代码
type hookRegistry struct {
	mu     sync.RWMutex
	nextID HookID
	hooks  map[HookKind][]hookEntry
	logger *zap.Logger
}

func newHookRegistry(logger *zap.Logger) *hookRegistry {
	return &hookRegistry{
		hooks:  make(map[HookKind][]hookEntry),
		logger: logger,
	}
}

func (r *hookRegistry) add(kind HookKind, fn any) HookID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.hooks[kind] = append(r.hooks[kind], hookEntry{id: id, fn: fn})
	return id
}

func (r *hookRegistry) remove(id HookID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, entries := range r.hooks {
		for i, e := range entries {
			if e.id == id {
				r.hooks[kind] = append(entries[:i:i], entries[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (r *hookRegistry) snapshot(kind HookKind) []hookEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]hookEntry(nil), r.hooks[kind]...)
}

func (r *hookRegistry) count(kind HookKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[kind])
}

// call runs every hook of kind in registration order. invoke adapts the
// stored function; errors and panics are logged and swallowed.
func (r *hookRegistry) call(kind HookKind, invoke func(fn any) error) {
	for _, e := range r.snapshot(kind) {
		r.safeCall(kind, e, invoke)
	}
}

func (r *hookRegistry) safeCall(kind HookKind, e hookEntry, invoke func(fn any) error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("hook panicked",
				zap.String("kind", kind.String()),
				zap.Uint64("hook_id", uint64(e.id)),
				zap.Any("panic", rec),
			)
		}
	}()
	if err := invoke(e.fn); err != nil {
		r.logger.Warn("hook returned error",
			zap.String("kind", kind.String()),
			zap.Uint64("hook_id", uint64(e.id)),
			zap.Error(err),
		)
	}
}

// AddBeforeActionHook registers a hook run before each action.
func (e *Executor) AddBeforeActionHook(h BeforeActionHook) HookID {
	return e.hooks.add(HookBeforeAction, h)
}

// AddAfterActionHook registers a hook run after each action.
func (e *Executor) AddAfterActionHook(h AfterActionHook) HookID {
	return e.hooks.add(HookAfterAction, h)
}

// AddErrorHook registers a hook run when an action fails.
func (e *Executor) AddErrorHook(h ErrorHook) HookID {
	return e.hooks.add(HookError, h)
}

// AddPlanCompleteHook registers a hook run once per finished execution.
func (e *Executor) AddPlanCompleteHook(h PlanCompleteHook) HookID {
	return e.hooks.add(HookPlanComplete, h)
}

// RemoveHook unregisters a hook. It reports whether the id was known.
func (e *Executor) RemoveHook(id HookID) bool {
	return e.hooks.remove(id)
}

// HookCount returns the number of hooks registered for kind.
func (e *Executor) HookCount(kind HookKind) int {
	return e.hooks.count(kind)
}

func (e *Executor) fireBeforeAction(ctx context.Context, action types.Action, execCtx map[string]any) {
	e.hooks.call(HookBeforeAction, func(fn any) error {
		return fn.(BeforeActionHook)(ctx, action, execCtx)
	})
}

func (e *Executor) fireAfterAction(ctx context.Context, action types.Action, result *types.ActionResult) {
	e.hooks.call(HookAfterAction, func(fn any) error {
		return fn.(AfterActionHook)(ctx, action, result.Clone())
	})
}

func (e *Executor) fireError(ctx context.Context, action types.Action, err error) {
	e.hooks.call(HookError, func(fn any) error {
		return fn.(ErrorHook)(ctx, action, err)
	})
}

func (e *Executor) firePlanComplete(ctx context.Context, report *types.ExecutionReport) {
	e.hooks.call(HookPlanComplete, func(fn any) error {
		return fn.(PlanCompleteHook)(ctx, report.Clone())
	})
}
