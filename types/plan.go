package types

import "time"

// Action is one planned tool invocation.
type Action struct {
	StepID    string         `json:"step_id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
	// DependsOn lists the StepIDs that must complete before this action starts.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan is an ordered set of actions for one workflow iteration.
// A plan must not be mutated once it has been handed to an executor.
type Plan struct {
	PlanID          string    `json:"plan_id"`
	Goal            string    `json:"goal"`
	Actions         []Action  `json:"actions"`
	CreatedAt       time.Time `json:"created_at"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// Action returns the action with the given step id.
func (p *Plan) Action(stepID string) (*Action, bool) {
	for i := range p.Actions {
		if p.Actions[i].StepID == stepID {
			return &p.Actions[i], true
		}
	}
	return nil, false
}

// Tools returns the distinct tool names used by the plan, in plan order.
func (p *Plan) Tools() []string {
	seen := make(map[string]struct{}, len(p.Actions))
	out := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		if _, ok := seen[a.Tool]; ok {
			continue
		}
		seen[a.Tool] = struct{}{}
		out = append(out, a.Tool)
	}
	return out
}
