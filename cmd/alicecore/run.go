package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alicevoice/agentcore/agent/orchestrator"
	"github.com/alicevoice/agentcore/api"
	"github.com/alicevoice/agentcore/config"
	"github.com/alicevoice/agentcore/tools"
	"github.com/alicevoice/agentcore/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

type runOptions struct {
	maxIterations int
	minScore      float64
	strategy      string
	noImprove     bool
	jsonOutput    bool
	quiet         bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run one workflow in-process and print the result",
		Example: `  alicecore run "spela musik och visa kalendern"
  alicecore run --max-iterations 1 --json "läs mina mejl"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			return runWorkflow(cmd, cfg, strings.Join(args, " "), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.maxIterations, "max-iterations", 0, "iteration budget (default from config)")
	f.Float64Var(&opts.minScore, "min-score", 0, "critic score that ends the workflow (default from config)")
	f.StringVar(&opts.strategy, "strategy", "", "improvement strategy: adaptive, retry_failed, optimize_plan, none")
	f.BoolVar(&opts.noImprove, "no-improve", false, "stop after the first unsuccessful iteration")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the full workflow result as JSON")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

// override 把命令行参数转换为工作流配置覆盖，只包含显式设置的参数
func (o *runOptions) override(cmd *cobra.Command) *api.WorkflowConfigOverride {
	ov := &api.WorkflowConfigOverride{}
	f := cmd.Flags()
	if f.Changed("max-iterations") {
		ov.MaxIterations = &o.maxIterations
	}
	if f.Changed("min-score") {
		ov.MinSuccessScore = &o.minScore
	}
	if f.Changed("strategy") {
		s := types.ImprovementStrategy(o.strategy)
		ov.ImprovementStrategy = &s
	}
	if o.noImprove {
		v := false
		ov.AutoImprove = &v
	}
	return ov
}

func runWorkflow(cmd *cobra.Command, cfg *config.Config, goal string, opts *runOptions) error {
	// CLI 日志只写 stderr，stdout 留给结果
	cfg.Log.OutputPaths = []string{"stderr"}
	if !cmd.Flags().Changed("config") && cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logger, _, err := initLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := buildCore(cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.close(); err != nil {
			logger.Warn("agent core shutdown error", zap.Error(err))
		}
	}()

	wfCfg := opts.override(cmd).Apply(c.orchestrator.Config().Workflow)

	var progress orchestrator.ProgressFunc
	if !opts.quiet {
		errOut := cmd.ErrOrStderr()
		progress = func(p orchestrator.Progress) {
			if p.Phase == orchestrator.PhaseExecuting {
				return
			}
			printProgress(errOut, p)
		}
	}

	result, err := c.orchestrator.ExecuteWorkflowWithConfig(cmd.Context(), goal, nil, wfCfg, progress)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(out, result)
	}
	if !result.Success {
		return fmt.Errorf("workflow %s: %s", result.Status, result.Error)
	}
	return nil
}

func printProgress(w io.Writer, p orchestrator.Progress) {
	if p.Iteration > 0 {
		fmt.Fprintf(w, "[%3.0f%%] #%d %-11s %s\n", p.ProgressPercent, p.Iteration, p.Phase, p.Message)
		return
	}
	fmt.Fprintf(w, "[%3.0f%%]    %-11s %s\n", p.ProgressPercent, p.Phase, p.Message)
}

func printSummary(w io.Writer, r *types.WorkflowResult) {
	fmt.Fprintf(w, "Workflow %s: %s (score %.2f, %d iteration(s), %d improvement(s))\n",
		r.WorkflowID, r.Status, r.FinalScore, len(r.Iterations), r.TotalImprovements)
	last, ok := r.LastIteration()
	if !ok || last.Execution == nil || last.Plan == nil {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTOOL\tSTATUS\tMESSAGE")
	for _, a := range last.Plan.Actions {
		res := last.Execution.Results[a.StepID]
		if res == nil {
			continue
		}
		msg := res.ErrorMessage
		if msg == "" {
			msg = resultMessage(res.Result)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.StepID, a.Tool, res.Status, msg)
	}
	_ = tw.Flush()

	if last.Critic != nil {
		for _, insight := range last.Critic.Insights {
			fmt.Fprintf(w, "  - %s\n", insight)
		}
	}
}

// resultMessage 提取工具结果中的可读信息
func resultMessage(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case map[string]any:
		if m, ok := r["message"].(string); ok {
			return m
		}
		if t, ok := r["tool"].(string); ok {
			return t + " completed"
		}
	}
	return ""
}

// =============================================================================
// 🧰 tools 命令
// =============================================================================

func newToolsCmd(root *rootOptions) *cobra.Command {
	var (
		category   string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog available to the planner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			specs := tools.Filter(tools.DefaultCatalog(), cfg.Tools.Disabled)
			if category != "" {
				filtered := specs[:0:0]
				for _, s := range specs {
					if string(s.Category) == category {
						filtered = append(filtered, s)
					}
				}
				specs = filtered
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(specs)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
			for _, s := range specs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Category, s.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list tools of this category")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the catalog as JSON")
	return cmd
}
