package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/alicevoice/agentcore/tools"
	"github.com/alicevoice/agentcore/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Context keys understood by CreatePlan.
const (
	ContextStrategy         = "improvement_strategy"
	ContextFailedTools      = "failed_tools"
	ContextAvoidTools       = "avoid_tools"
	ContextPreviousInsights = "previous_insights"
	ContextIteration        = "iteration"
)

// RetryHintArg is the argument set on an action whose tool failed before
// and has no fallback.
const RetryHintArg = "retry_hint"

const (
	singleCategoryConfidence = 0.9
	perExtraCategoryPenalty  = 0.1
	minCategoryConfidence    = 0.5
	fallbackConfidence       = 0.3
	replanFactor             = 0.9
)

var sequencingWords = []string{"sedan", "darefter", "then"}

// Planner builds plans from a tool catalog. It is safe for concurrent use.
type Planner struct {
	catalog  []tools.ToolSpec
	byName   map[string]tools.ToolSpec
	keywords map[tools.Category][]string
	logger   *zap.Logger
}

// New creates a planner over catalog. Category keywords are folded once here.
func New(catalog []tools.ToolSpec, categoryKeywords map[tools.Category][]string, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Planner{
		catalog:  append([]tools.ToolSpec(nil), catalog...),
		byName:   make(map[string]tools.ToolSpec, len(catalog)),
		keywords: make(map[tools.Category][]string, len(categoryKeywords)),
		logger:   logger.With(zap.String("component", "planner")),
	}
	for _, spec := range p.catalog {
		p.byName[spec.Name] = spec
	}
	for c, kws := range categoryKeywords {
		folded := make([]string, 0, len(kws))
		for _, kw := range kws {
			folded = append(folded, fold(kw))
		}
		p.keywords[c] = folded
	}
	return p
}

// NewDefault creates a planner over tools.DefaultCatalog.
func NewDefault(logger *zap.Logger) *Planner {
	return New(tools.DefaultCatalog(), tools.CategoryKeywords(), logger)
}

// CreatePlan turns goal into a plan. The returned plan always has at least
// one action. The only error is a done context.
func (p *Planner) CreatePlan(ctx context.Context, goal string, planCtx map[string]any) (*types.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := tokenize(goal)
	categories := p.matchCategories(tokens)

	var (
		actions    []types.Action
		confidence float64
	)
	if len(categories) > 0 {
		actions = p.buildActions(goal, tokens, categories, isSequential(tokens))
		confidence = singleCategoryConfidence - perExtraCategoryPenalty*float64(len(categories)-1)
		if confidence < minCategoryConfidence {
			confidence = minCategoryConfidence
		}
	}
	if len(actions) == 0 {
		actions = []types.Action{p.inspectAction(goal)}
		confidence = fallbackConfidence
	}

	strategy := types.ImprovementStrategy(stringValue(planCtx[ContextStrategy]))
	replan := strategy != "" || intValue(planCtx[ContextIteration]) > 1
	switch strategy {
	case types.StrategyRetryFailed:
		if restricted := p.restrictToTools(goal, actions, stringSlice(planCtx[ContextFailedTools])); len(restricted) > 0 {
			actions = restricted
		}
	case types.StrategyOptimizePlan:
		avoid := append(stringSlice(planCtx[ContextAvoidTools]), stringSlice(planCtx[ContextFailedTools])...)
		actions = p.avoidTools(actions, avoid)
	}
	if replan {
		confidence *= replanFactor
	}

	plan := &types.Plan{
		PlanID:          uuid.NewString(),
		Goal:            goal,
		Actions:         actions,
		CreatedAt:       time.Now(),
		ConfidenceScore: clamp01(confidence),
	}

	p.logger.Debug("plan created",
		zap.String("plan_id", plan.PlanID),
		zap.Int("actions", len(actions)),
		zap.Int("categories", len(categories)),
		zap.String("strategy", string(strategy)),
		zap.Int("previous_insights", len(stringSlice(planCtx[ContextPreviousInsights]))),
		zap.Float64("confidence", plan.ConfidenceScore),
	)
	return plan, nil
}

// matchCategories returns the matched categories ordered by their first
// mention in the goal.
func (p *Planner) matchCategories(tokens []string) []tools.Category {
	first := make(map[tools.Category]int)
	for c, kws := range p.keywords {
		for i, tok := range tokens {
			if matchesAny(tok, kws) {
				first[c] = i
				break
			}
		}
	}

	out := make([]tools.Category, 0, len(first))
	for c := range first {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if first[out[i]] != first[out[j]] {
			return first[out[i]] < first[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func (p *Planner) buildActions(goal string, tokens []string, categories []tools.Category, sequential bool) []types.Action {
	var (
		actions  []types.Action
		prevLast string
	)
	for _, c := range categories {
		selected := p.selectTools(c, tokens)
		var last string
		for i, spec := range selected {
			a := types.Action{
				StepID:    fmt.Sprintf("step_%d", len(actions)+1),
				Tool:      spec.Name,
				Args:      map[string]any{"goal": goal},
				Rationale: spec.Description,
			}
			switch {
			case i > 0:
				a.DependsOn = []string{last}
			case sequential && prevLast != "":
				a.DependsOn = []string{prevLast}
			}
			actions = append(actions, a)
			last = a.StepID
		}
		if last != "" {
			prevLast = last
		}
	}
	return actions
}

// selectTools picks the tools of one category in catalog order.
func (p *Planner) selectTools(c tools.Category, tokens []string) []tools.ToolSpec {
	var (
		selected []tools.ToolSpec
		explicit bool
	)
	for _, spec := range p.catalog {
		if spec.Category != c || spec.FallbackOnly {
			continue
		}
		if spec.Always {
			selected = append(selected, spec)
			continue
		}
		if matchesTokens(tokens, spec.Keywords) {
			selected = append(selected, spec)
			explicit = true
		}
	}
	if explicit {
		return selected
	}

	var withDefault []tools.ToolSpec
	for _, spec := range p.catalog {
		if spec.Category != c || spec.FallbackOnly {
			continue
		}
		if spec.Always || spec.Default {
			withDefault = append(withDefault, spec)
		}
	}
	return withDefault
}

func (p *Planner) inspectAction(goal string) types.Action {
	rationale := "no tool category matched the goal; inspecting assistant state"
	if spec, ok := p.byName[tools.InspectTool]; ok && spec.Description != "" {
		rationale = spec.Description
	}
	return types.Action{
		StepID:    "step_1",
		Tool:      tools.InspectTool,
		Args:      map[string]any{"goal": goal},
		Rationale: rationale,
	}
}

// restrictToTools keeps only actions whose tool failed, bypassing removed
// dependencies. Failed tools missing from the fresh plan are appended.
func (p *Planner) restrictToTools(goal string, actions []types.Action, failed []string) []types.Action {
	if len(failed) == 0 {
		return nil
	}
	keep := toSet(failed)

	skip := make(map[string]bool)
	planned := make(map[string]bool)
	for _, a := range actions {
		if _, ok := keep[a.Tool]; ok {
			planned[a.Tool] = true
		} else {
			skip[a.StepID] = true
		}
	}

	deps := bypass(actions, skip)
	var out []types.Action
	for _, a := range actions {
		if skip[a.StepID] {
			continue
		}
		a = cloneAction(a)
		a.DependsOn = deps[a.StepID]
		a.Rationale = "retry of failed tool: " + a.Rationale
		out = append(out, a)
	}

	for _, name := range failed {
		spec, ok := p.byName[name]
		if !ok || planned[name] {
			continue
		}
		planned[name] = true
		out = append(out, types.Action{
			StepID:    fmt.Sprintf("retry_%d", len(out)+1),
			Tool:      name,
			Args:      map[string]any{"goal": goal},
			Rationale: "retry of failed tool: " + spec.Description,
		})
	}
	return out
}

// avoidTools swaps avoided tools for their catalog fallback. Avoided tools
// without a fallback are kept with a retry hint, and nothing depends on them.
func (p *Planner) avoidTools(actions []types.Action, avoid []string) []types.Action {
	if len(avoid) == 0 {
		return actions
	}
	avoidSet := toSet(avoid)

	hinted := make(map[string]bool)
	out := make([]types.Action, len(actions))
	for i, a := range actions {
		a = cloneAction(a)
		if _, ok := avoidSet[a.Tool]; ok {
			if fb, ok := p.fallbackFor(a.Tool, avoidSet); ok {
				a.Args["replaces"] = a.Tool
				a.Rationale = fmt.Sprintf("%s (fallback for %s)", fb.Description, a.Tool)
				a.Tool = fb.Name
			} else {
				a.Args[RetryHintArg] = "previous attempt failed"
				hinted[a.StepID] = true
			}
		}
		out[i] = a
	}

	if len(hinted) == 0 {
		return out
	}
	deps := bypass(out, hinted)
	for i := range out {
		if !hinted[out[i].StepID] {
			out[i].DependsOn = deps[out[i].StepID]
		}
	}
	return out
}

func (p *Planner) fallbackFor(name string, avoid map[string]struct{}) (tools.ToolSpec, bool) {
	spec, ok := p.byName[name]
	if !ok || spec.Fallback == "" {
		return tools.ToolSpec{}, false
	}
	if _, avoided := avoid[spec.Fallback]; avoided {
		return tools.ToolSpec{}, false
	}
	fb, ok := p.byName[spec.Fallback]
	return fb, ok
}

// bypass recomputes dependencies so that skipped actions are replaced by
// their own (resolved) dependencies. Unknown ids are kept as is.
func bypass(actions []types.Action, skip map[string]bool) map[string][]string {
	byID := make(map[string]types.Action, len(actions))
	for _, a := range actions {
		byID[a.StepID] = a
	}

	memo := make(map[string][]string)
	visiting := make(map[string]bool)
	var resolve func(id string) []string
	resolve = func(id string) []string {
		if r, ok := memo[id]; ok {
			return r
		}
		if visiting[id] {
			return nil
		}
		visiting[id] = true
		defer delete(visiting, id)

		var out []string
		for _, d := range byID[id].DependsOn {
			if skip[d] {
				out = append(out, resolve(d)...)
			} else {
				out = append(out, d)
			}
		}
		out = dedupe(out)
		memo[id] = out
		return out
	}

	result := make(map[string][]string, len(actions))
	for _, a := range actions {
		result[a.StepID] = resolve(a.StepID)
	}
	return result
}

// ============================================================
// text helpers
// ============================================================

// fold lower-cases s and strips diacritics ("Läs" -> "las").
// Chained transformers carry state, so each call builds its own.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchToken reports whether tok matches kw: exact, or prefix for
// keywords of at least four letters.
func matchToken(tok, kw string) bool {
	if tok == kw {
		return true
	}
	return len([]rune(kw)) >= 4 && strings.HasPrefix(tok, kw)
}

func matchesAny(tok string, kws []string) bool {
	for _, kw := range kws {
		if matchToken(tok, kw) {
			return true
		}
	}
	return false
}

func matchesTokens(tokens, keywords []string) bool {
	for _, kw := range keywords {
		kw = fold(kw)
		for _, tok := range tokens {
			if matchToken(tok, kw) {
				return true
			}
		}
	}
	return false
}

func isSequential(tokens []string) bool {
	for i, tok := range tokens {
		for _, w := range sequencingWords {
			if tok == w {
				return true
			}
		}
		if tok == "after" && i+1 < len(tokens) && tokens[i+1] == "that" {
			return true
		}
	}
	return false
}

// ============================================================
// context value helpers
// ============================================================

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case types.ImprovementStrategy:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	return ""
}

func intValue(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

// stringSlice accepts []string or the []any produced by JSON decoding.
func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func dedupe(items []string) []string {
	if len(items) < 2 {
		return items
	}
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func cloneAction(a types.Action) types.Action {
	args := make(map[string]any, len(a.Args)+1)
	for k, v := range a.Args {
		args[k] = v
	}
	a.Args = args
	a.DependsOn = append([]string(nil), a.DependsOn...)
	return a
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
