package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/verdict/internal/output"
	"github.com/joescharf/verdict/internal/store"
)

var (
	historyRepo  string
	historySHA   string
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded council runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd.Context())
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded council run and its reviewers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd.Context(), args[0])
	},
}

var historyModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Aggregate reviewer quality per model across recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyModelsRun(cmd.Context())
	},
}

var historyGatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "List recorded wave-gate decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyGatesRun(cmd.Context())
	},
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyRepo, "repo", "", "Filter by owner/repo")
	historyCmd.PersistentFlags().StringVar(&historySHA, "sha", "", "Filter by head commit")
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 20, "Maximum rows")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Print as JSON")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyModelsCmd)
	historyCmd.AddCommand(historyGatesCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func historyListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	runs, err := s.ListCouncilRuns(historyContext(ctx), store.RunListFilter{
		Repo:    historyRepo,
		HeadSHA: historySHA,
		Limit:   historyLimit,
	})
	if err != nil {
		return err
	}
	if historyJSON {
		return ui.JSON(runs)
	}
	if len(runs) == 0 {
		ui.Info("No council runs recorded. Use 'verdict council --record' to start.")
		return nil
	}

	table := ui.Table([]string{"ID", "When", "Repo", "SHA", "Verdict", "Reviewers", "Skip", "Parse Fail", "Override"})
	for _, r := range runs {
		ov := ""
		if r.OverrideUsed {
			ov = r.OverrideActor
		}
		_ = table.Append([]string{
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Repo,
			shortSHA(r.HeadSHA),
			output.VerdictColor(string(r.Verdict)),
			fmt.Sprintf("%d", r.Total),
			output.RateColor(r.SkipRate),
			output.RateColor(r.ParseFailureRate),
			ov,
		})
	}
	_ = table.Render()
	return nil
}

func historyShowRun(ctx context.Context, id string) error {
	ctx = historyContext(ctx)
	s, err := getStore()
	if err != nil {
		return err
	}
	run, err := s.GetCouncilRun(ctx, id)
	if err != nil {
		return err
	}
	reviewers, err := s.ListReviewerRuns(ctx, run.ID)
	if err != nil {
		return err
	}
	if historyJSON {
		return ui.JSON(map[string]any{"run": run, "reviewers": reviewers})
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.VerdictColor(string(run.Verdict)), run.Summary)
	fmt.Fprintf(ui.Out, "  %s @ %s, %s\n\n", run.Repo, shortSHA(run.HeadSHA), run.CreatedAt.Local().Format("2006-01-02 15:04"))

	table := ui.Table([]string{"Reviewer", "Verdict", "Confidence", "Model", "Runtime", "Notes"})
	for _, r := range reviewers {
		runtime := ""
		if r.RuntimeSeconds != nil {
			runtime = fmt.Sprintf("%.1fs", *r.RuntimeSeconds)
		}
		var notes string
		switch {
		case r.Timeout:
			notes = "timeout"
		case r.ParseFailure:
			notes = "parse failure"
		case r.FallbackUsed:
			notes = "fallback"
		}
		_ = table.Append([]string{
			r.Reviewer,
			output.VerdictColor(string(r.Verdict)),
			fmt.Sprintf("%.2f", r.Confidence),
			r.Model,
			runtime,
			notes,
		})
	}
	_ = table.Render()
	return nil
}

func historyModelsRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	stats, err := s.ModelStats(historyContext(ctx), historyRepo)
	if err != nil {
		return err
	}
	if historyJSON {
		return ui.JSON(stats)
	}
	if len(stats) == 0 {
		ui.Info("No reviewer runs recorded.")
		return nil
	}

	table := ui.Table([]string{"Model", "Reviews", "Success", "Skip", "Fallback", "Parse Fail", "Avg Runtime"})
	for _, m := range stats {
		model := m.Model
		if model == "" {
			model = "(unknown)"
		}
		_ = table.Append([]string{
			model,
			fmt.Sprintf("%d", m.Reviews),
			fmt.Sprintf("%.0f%%", m.SuccessRate*100),
			output.RateColor(m.SkipRate),
			output.RateColor(m.FallbackRate),
			fmt.Sprintf("%d", m.ParseFailures),
			fmt.Sprintf("%.1fs", m.AvgRuntimeSeconds),
		})
	}
	_ = table.Render()
	return nil
}

func historyGatesRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	gates, err := s.ListGateRuns(historyContext(ctx), historySHA, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return ui.JSON(gates)
	}
	if len(gates) == 0 {
		ui.Info("No gate decisions recorded. Use 'verdict gate --record' to start.")
		return nil
	}

	table := ui.Table([]string{"When", "SHA", "Wave", "Tier", "Outcome", "Reason", "Next"})
	for _, g := range gates {
		outcome := "stop"
		switch {
		case g.Escalate:
			outcome = output.Cyan("escalate")
		case g.Blocking:
			outcome = output.Red("blocked")
		}
		_ = table.Append([]string{
			g.CreatedAt.Local().Format("2006-01-02 15:04"),
			shortSHA(g.HeadSHA),
			g.Wave,
			g.Tier,
			outcome,
			g.Reason,
			g.NextWave,
		})
	}
	_ = table.Render()
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
