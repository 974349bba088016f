package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionReport_ProgressPercent(t *testing.T) {
	t.Parallel()

	empty := NewExecutionReport(&Plan{PlanID: "p"})
	assert.Equal(t, 0.0, empty.ProgressPercent())

	r := NewExecutionReport(&Plan{PlanID: "p", Actions: []Action{{StepID: "a"}, {StepID: "b"}, {StepID: "c"}, {StepID: "d"}}})
	r.CompletedActions = 1
	assert.Equal(t, 25.0, r.ProgressPercent())
	r.CompletedActions = 4
	assert.Equal(t, 100.0, r.ProgressPercent())
}

func TestNewExecutionReport_DuplicateStepIDs(t *testing.T) {
	t.Parallel()

	r := NewExecutionReport(&Plan{PlanID: "p", Actions: []Action{{StepID: "a"}, {StepID: "a"}}})
	assert.Equal(t, 1, r.TotalActions)
	assert.Equal(t, ActionPending, r.Results["a"].Status)
}

func TestExecutionReport_CloneIsDeep(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewExecutionReport(&Plan{PlanID: "p", Actions: []Action{{StepID: "a"}}})
	r.CompletedAt = &now
	c := r.Clone()

	c.Results["a"].Status = ActionFailed
	*c.CompletedAt = now.Add(time.Hour)

	assert.Equal(t, ActionPending, r.Results["a"].Status)
	assert.Equal(t, now, *r.CompletedAt)
}

func TestWorkflowConfig_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultWorkflowConfig().Validate())

	cases := []WorkflowConfig{
		{MaxIterations: 0, MinSuccessScore: 0.5, ImprovementStrategy: StrategyNone},
		{MaxIterations: 1, MinSuccessScore: 1.5, ImprovementStrategy: StrategyNone},
		{MaxIterations: 1, MinSuccessScore: 0.5, ImprovementStrategy: "bogus"},
	}
	for _, c := range cases {
		err := c.Validate()
		require.Error(t, err)
		assert.True(t, IsErrorCode(err, ErrInvalidConfig))
	}
}

func TestCriticReport_FailedTools(t *testing.T) {
	t.Parallel()

	r := &CriticReport{Issues: []Issue{
		{Tool: "email.send", Kind: IssueToolFailure},
		{Tool: "email.send", Kind: IssueTimeout},
		{Tool: "calendar.create", Kind: IssueBlocked},
		{Kind: IssueEmptyPlan},
		{Tool: "music.play", Kind: IssueTimeout},
	}}
	assert.Equal(t, []string{"email.send", "music.play"}, r.FailedTools())
}

func TestPlan_ToolsAndLookup(t *testing.T) {
	t.Parallel()

	p := &Plan{Actions: []Action{{StepID: "1", Tool: "x"}, {StepID: "2", Tool: "y"}, {StepID: "3", Tool: "x"}}}
	assert.Equal(t, []string{"x", "y"}, p.Tools())

	a, ok := p.Action("2")
	require.True(t, ok)
	assert.Equal(t, "y", a.Tool)

	_, ok = p.Action("nope")
	assert.False(t, ok)
}
