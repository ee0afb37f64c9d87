package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/verdict/internal/council"
	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/override"
)

var errOverrideRejected = errors.New("no override request is authorized")

var (
	overrideActor       string
	overrideSHA         string
	overrideReason      string
	overrideBody        string
	overrideFile        string
	overrideHeadSHA     string
	overridePRAuthor    string
	overridePermissions map[string]string
	overrideFailing     []string
	overrideArtifacts   string
	overrideJSON        bool
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Inspect override authorization",
}

var overrideCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether an override request would be accepted",
	Long: `Check resolves one or more override requests against the policy that
would guard the current failures, without running the council.

The policy is the strictest one among the failing reviewers, taken from
--failing reviewer ids or from the FAIL artifacts under --artifacts. It exits
non-zero when no request is authorized.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return overrideCheckRun()
	},
}

func init() {
	f := overrideCheckCmd.Flags()
	f.StringVar(&overrideActor, "actor", "", "Login requesting the override")
	f.StringVar(&overrideSHA, "sha", "", "Commit sha prefix the override applies to")
	f.StringVar(&overrideReason, "reason", "", "Reason for the override")
	f.StringVar(&overrideBody, "body", "", "Comment body to parse sha= and reason from")
	f.StringVar(&overrideFile, "override-file", "", "JSON override request(s) instead of flags")
	f.StringVar(&overrideHeadSHA, "head-sha", "", "Commit under evaluation")
	f.StringVar(&overridePRAuthor, "pr-author", "", "Pull request author login")
	f.StringToStringVar(&overridePermissions, "permission", nil, "Repo permission of an actor (login=role), repeatable")
	f.StringSliceVar(&overrideFailing, "failing", nil, "Failing reviewer ids")
	f.StringVarP(&overrideArtifacts, "artifacts", "a", "", "Derive failing reviewers from these artifacts")
	f.BoolVar(&overrideJSON, "json", false, "Print the decision as JSON")
	overrideCmd.AddCommand(overrideCheckCmd)
	rootCmd.AddCommand(overrideCmd)
}

func overrideCheckRun() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var candidates []override.Candidate
	if overrideFile != "" {
		data, err := os.ReadFile(overrideFile)
		if err != nil {
			return fmt.Errorf("read override file: %w", err)
		}
		if candidates, err = override.ParseCandidates(data); err != nil {
			return err
		}
	} else {
		if overrideActor == "" && overrideBody == "" {
			return fmt.Errorf("pass --actor with --sha/--reason or --body, or --override-file")
		}
		candidates = []override.Candidate{{
			Actor:  overrideActor,
			SHA:    overrideSHA,
			Reason: overrideReason,
			Body:   overrideBody,
		}}
	}

	failing := make([]models.Review, 0, len(overrideFailing))
	for _, id := range overrideFailing {
		failing = append(failing, models.Review{Reviewer: id, Verdict: models.VerdictFail})
	}
	if overrideArtifacts != "" {
		files, err := councilFiles(overrideArtifacts, "")
		if err != nil {
			return err
		}
		ev := cfg.Evaluator()
		loaded, skipped := ev.Loader.LoadAll(files)
		for _, sa := range skipped {
			ui.VerboseLog("Skipped %s: %s", sa.File, sa.Reason)
		}
		failing = append(failing, ev.Failing(council.Reviews(loaded))...)
	}

	policy := override.EffectivePolicy(failing, cfg.ReviewerPolicies(), cfg.GlobalPolicy())
	d := override.Select(candidates, policy, override.Context{
		HeadSHA:     overrideHeadSHA,
		PRAuthor:    overridePRAuthor,
		Permissions: overridePermissions,
	})

	if overrideJSON {
		if err := ui.JSON(d); err != nil {
			return err
		}
	} else {
		ui.Info("Effective policy: %s", d.Policy)
		for _, r := range d.Rejected {
			ui.Warning("Rejected %s: %s", r.Actor, r.Reason)
		}
		if d.Override != nil {
			ui.Success("Accepted override by %s (%s): %s", d.Override.Actor, d.Override.SHA, d.Override.Reason)
		}
	}

	if d.Override == nil {
		return errOverrideRejected
	}
	return nil
}
