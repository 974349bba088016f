package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alicevoice/agentcore/types"
)

// SimulateFailureArg makes a simulated tool fail when set to true in the call arguments.
const SimulateFailureArg = "simulate_failure"

// SimulatedHandlers returns a handler for every non-system tool of catalog.
// Each handler waits latency, honouring ctx, then echoes its arguments.
// The real tool integrations live outside this module.
func SimulatedHandlers(catalog []ToolSpec, latency time.Duration) map[string]Handler {
	out := make(map[string]Handler, len(catalog))
	for _, spec := range catalog {
		if spec.Category == CategorySystem {
			continue
		}
		out[spec.Name] = simulated(spec.Name, latency)
	}
	return out
}

func simulated(name string, latency time.Duration) Handler {
	return func(ctx context.Context, args map[string]any) (types.ToolResult, error) {
		if latency > 0 {
			timer := time.NewTimer(latency)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				code := types.ErrCancelled
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					code = types.ErrTimeout
				}
				return types.ToolResult{OK: false, Message: ctx.Err().Error(), Code: code}, nil
			case <-timer.C:
			}
		}

		if fail, _ := args[SimulateFailureArg].(bool); fail {
			return types.ToolFailure(fmt.Sprintf("%s failed (simulated)", name)), nil
		}
		return types.ToolSuccess(fmt.Sprintf("%s completed", name), map[string]any{
			"tool":      name,
			"args":      args,
			"simulated": true,
		}), nil
	}
}

// Filter returns catalog without the named tools.
func Filter(catalog []ToolSpec, disabled []string) []ToolSpec {
	if len(disabled) == 0 {
		return catalog
	}
	skip := make(map[string]struct{}, len(disabled))
	for _, n := range disabled {
		skip[n] = struct{}{}
	}
	out := make([]ToolSpec, 0, len(catalog))
	for _, s := range catalog {
		if _, ok := skip[s.Name]; !ok {
			out = append(out, s)
		}
	}
	return out
}
