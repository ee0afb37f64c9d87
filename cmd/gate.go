package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/output"
	"github.com/joescharf/verdict/internal/store"
	"github.com/joescharf/verdict/internal/wave"
)

var (
	gateWave      string
	gateTier      string
	gateArtifacts string
	gateOut       string
	gateHeadSHA   string
	gateRepo      string
	gateRecord    bool
	gateJSON      bool
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Decide whether the next wave of reviewers should run",
	Long: `Gate reads the artifacts of one wave (<artifacts>/<wave>/*.json) and decides
whether to escalate to the next configured wave.

An unknown wave name is a configuration error. Blocking outcomes are reported
in the result, not as a failing exit code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return gateRun(cmd.Context())
	},
}

func init() {
	gateCmd.Flags().StringVar(&gateWave, "wave", "", "Wave that just completed (required)")
	gateCmd.Flags().StringVar(&gateTier, "tier", "", "Cost tier bounding escalation depth")
	gateCmd.Flags().StringVarP(&gateArtifacts, "artifacts", "a", "artifacts", "Artifacts root (one directory per wave)")
	gateCmd.Flags().StringVarP(&gateOut, "out", "o", "", "Result path (default: <artifacts>/../council/gate-<wave>.json)")
	gateCmd.Flags().StringVar(&gateHeadSHA, "head-sha", "", "Commit recorded with the result (default: git HEAD)")
	gateCmd.Flags().StringVar(&gateRepo, "repo", "", "owner/repo recorded with the result")
	gateCmd.Flags().BoolVar(&gateRecord, "record", false, "Record the result in the history database")
	gateCmd.Flags().BoolVar(&gateJSON, "json", false, "Print the result as JSON")
	_ = gateCmd.MarkFlagRequired("wave")
	rootCmd.AddCommand(gateCmd)
}

func gateRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	files, err := wave.Files(gateArtifacts, gateWave)
	if err != nil {
		return err
	}
	res, err := cfg.Gate().Evaluate(gateWave, gateTier, files)
	if err != nil {
		return err
	}

	out := gateOut
	if out == "" {
		out = filepath.Join(filepath.Dir(filepath.Clean(gateArtifacts)), "council", "gate-"+gateWave+".json")
	}
	if dryRun {
		ui.DryRunMsg("Would write %s", out)
	} else if err := artifact.WriteJSON(out, res); err != nil {
		return err
	}

	if gateRecord {
		if err := recordGate(ctx, res); err != nil {
			return err
		}
	}

	if gateJSON {
		return ui.JSON(res)
	}
	printGate(res)
	return nil
}

func recordGate(ctx context.Context, res models.GateResult) error {
	if dryRun {
		ui.DryRunMsg("Would record gate result")
		return nil
	}
	repo := gateRepo
	if repo == "" {
		repo = gitRepoSlug()
	}
	sha := gateHeadSHA
	if sha == "" {
		sha, _ = gitClient.HeadSHA(".")
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	run, err := store.NewGateRun(repo, sha, gateTier, res)
	if err != nil {
		return err
	}
	return s.RecordGateRun(ctx, run)
}

func printGate(res models.GateResult) {
	st := res.Stats
	ui.VerboseLog("%d artifact(s): pass=%d warn=%d fail=%d skip=%d critical=%d major=%d malformed=%d",
		st.Total, st.Pass, st.Warn, st.Fail, st.Skip, st.Critical, st.Major, st.Malformed)
	for _, sa := range res.SkippedArtifacts {
		ui.Warning("Skipped %s: %s", sa.File, sa.Reason)
	}
	if len(res.MissingReviewers) > 0 {
		ui.Warning("No artifact from: %s", strings.Join(res.MissingReviewers, ", "))
	}

	switch {
	case res.Escalate:
		ui.Success("%s: escalate to %s", res.Wave, output.Cyan(res.NextWave))
	case res.Blocking:
		ui.Error("%s: blocked (%s)", res.Wave, output.Red(res.Reason))
	default:
		ui.Info("%s: stop (%s)", res.Wave, res.Reason)
	}
	fmt.Fprintln(ui.Out)
}
