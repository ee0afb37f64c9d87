package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/config"
	"github.com/joescharf/verdict/internal/council"
	"github.com/joescharf/verdict/internal/git"
	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/output"
	"github.com/joescharf/verdict/internal/override"
	"github.com/joescharf/verdict/internal/store"
	"github.com/joescharf/verdict/internal/watch"
)

// Output file names written by the council.
const (
	councilVerdictFile = "council-verdict.json"
	qualityReportFile  = "quality-report.json"
)

// errCouncilFailed is returned by --strict when the council verdict is FAIL.
var errCouncilFailed = errors.New("council verdict is FAIL")

var (
	councilArtifacts    string
	councilOut          string
	councilOverrideFile string
	councilHeadSHA      string
	councilPRAuthor     string
	councilRepo         string
	councilPR           int
	councilPermissions  map[string]string
	councilRecord       bool
	councilWatch        bool
	councilJSON         bool
	councilStrict       bool
)

var councilCmd = &cobra.Command{
	Use:   "council",
	Short: "Aggregate reviewer artifacts into one council verdict",
	Long: `Council reads every *.json reviewer artifact under --artifacts, applies the
validation gate, reclassifies parse failures, selects at most one authorized
override and votes.

Override requests come from PR comments (--github-pr) and/or a JSON file of
{actor, sha, reason, body} objects (--override-file), in that order. The first
request that is well formed and authorized wins.

The council verdict and quality report are written atomically to --out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return councilRun(cmd.Context())
	},
}

func init() {
	councilCmd.Flags().StringVarP(&councilArtifacts, "artifacts", "a", "artifacts", "Artifacts directory")
	councilCmd.Flags().StringVarP(&councilOut, "out", "o", "", "Output directory (default: <artifacts>/../council)")
	councilCmd.Flags().StringVar(&councilOverrideFile, "override-file", "", "JSON override request(s)")
	councilCmd.Flags().IntVar(&councilPR, "github-pr", 0, "Read override requests from this pull request")
	councilCmd.Flags().StringVar(&councilHeadSHA, "head-sha", "", "Commit under evaluation (default: PR head, then git HEAD)")
	councilCmd.Flags().StringVar(&councilPRAuthor, "pr-author", "", "Pull request author login")
	councilCmd.Flags().StringToStringVar(&councilPermissions, "permission", nil, "Repo permission of an actor (login=role), repeatable")
	councilCmd.Flags().StringVar(&councilRepo, "repo", "", "owner/repo (default: github config, then origin remote)")
	councilCmd.Flags().BoolVar(&councilRecord, "record", false, "Record the run in the history database")
	councilCmd.Flags().BoolVarP(&councilWatch, "watch", "w", false, "Re-run whenever an artifact changes")
	councilCmd.Flags().BoolVar(&councilJSON, "json", false, "Print the council verdict as JSON")
	councilCmd.Flags().BoolVar(&councilStrict, "strict", false, "Exit non-zero when the verdict is FAIL")
	rootCmd.AddCommand(councilCmd)
}

// councilInputs are the per-invocation facts that do not change between watch runs.
type councilInputs struct {
	outDir     string
	candidates []override.Candidate
	context    override.Context
	meta       council.ReportMeta
}

func councilRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, err := resolveCouncilInputs(ctx, cfg)
	if err != nil {
		return err
	}

	cv, err := runCouncil(ctx, cfg, in)
	if err != nil {
		return err
	}

	if councilWatch {
		return watchCouncil(ctx, cfg, in)
	}
	if councilStrict && cv.Verdict == models.VerdictFail {
		return errCouncilFailed
	}
	return nil
}

// resolveCouncilInputs gathers override candidates and the evaluation context.
func resolveCouncilInputs(ctx context.Context, cfg *config.Config) (*councilInputs, error) {
	in := &councilInputs{
		outDir: councilOut,
		context: override.Context{
			HeadSHA:     councilHeadSHA,
			PRAuthor:    councilPRAuthor,
			Permissions: map[string]string{},
		},
		meta: council.ReportMeta{Repo: councilRepo, PRNumber: councilPR},
	}
	if in.outDir == "" {
		in.outDir = filepath.Join(filepath.Dir(filepath.Clean(councilArtifacts)), "council")
	}
	if in.meta.Repo == "" {
		in.meta.Repo = configuredRepo(cfg)
	}

	if councilPR > 0 {
		owner, repo, ok := strings.Cut(in.meta.Repo, "/")
		if !ok || owner == "" || repo == "" {
			return nil, fmt.Errorf("--github-pr needs a repository: pass --repo owner/repo or set github.owner and github.repo")
		}
		pc, err := newGitHubClient(cfg.GitHub.Token).PRContext(ctx, owner, repo, councilPR, cfg.Override.Trigger)
		if err != nil {
			ui.Warning("Could not read override requests from %s#%d: %v", in.meta.Repo, councilPR, err)
		} else {
			ui.VerboseLog("%d override request(s) on %s#%d", len(pc.Candidates), in.meta.Repo, councilPR)
			in.candidates = append(in.candidates, pc.Candidates...)
			if in.context.PRAuthor == "" {
				in.context.PRAuthor = pc.Author
			}
			if in.context.HeadSHA == "" {
				in.context.HeadSHA = pc.HeadSHA
			}
			for actor, role := range pc.Permissions {
				in.context.Permissions[actor] = role
			}
		}
	}

	if councilOverrideFile != "" {
		data, err := os.ReadFile(councilOverrideFile)
		if err != nil {
			return nil, fmt.Errorf("read override file: %w", err)
		}
		candidates, err := override.ParseCandidates(data)
		if err != nil {
			return nil, err
		}
		in.candidates = append(in.candidates, candidates...)
	}

	for actor, role := range councilPermissions {
		in.context.Permissions[actor] = role
	}

	if in.context.HeadSHA == "" {
		if sha, err := gitClient.HeadSHA("."); err == nil {
			in.context.HeadSHA = sha
		}
	}
	in.meta.HeadSHA = in.context.HeadSHA
	return in, nil
}

// configuredRepo returns owner/repo from config, falling back to the origin remote.
func configuredRepo(cfg *config.Config) string {
	if cfg.GitHub.Owner != "" && cfg.GitHub.Repo != "" {
		return cfg.GitHub.Owner + "/" + cfg.GitHub.Repo
	}
	return gitRepoSlug()
}

// gitRepoSlug derives owner/repo from the origin remote of the working directory.
func gitRepoSlug() string {
	return git.RepoSlug(gitClient, ".")
}

// runCouncil evaluates the current artifacts once and writes the outputs.
func runCouncil(ctx context.Context, cfg *config.Config, in *councilInputs) (models.CouncilVerdict, error) {
	files, err := councilFiles(councilArtifacts, in.outDir)
	if err != nil {
		return models.CouncilVerdict{}, err
	}
	ui.VerboseLog("Evaluating %d artifact(s) from %s", len(files), councilArtifacts)

	cv := cfg.Evaluator().Evaluate(council.Request{
		Files:      files,
		Candidates: in.candidates,
		Context:    in.context,
	})
	meta := in.meta
	meta.GeneratedAt = time.Now().UTC()
	rep := council.BuildReport(meta, cv)

	verdictPath := filepath.Join(in.outDir, councilVerdictFile)
	reportPath := filepath.Join(in.outDir, qualityReportFile)
	if dryRun {
		ui.DryRunMsg("Would write %s and %s", verdictPath, reportPath)
	} else {
		if err := artifact.WriteJSON(verdictPath, cv); err != nil {
			return cv, err
		}
		if err := artifact.WriteJSON(reportPath, rep); err != nil {
			return cv, err
		}
	}

	if councilRecord {
		if err := recordCouncil(ctx, cv, rep); err != nil {
			return cv, err
		}
	}

	if councilJSON {
		return cv, ui.JSON(cv)
	}
	printCouncil(cv)
	if !dryRun {
		ui.VerboseLog("Wrote %s", verdictPath)
	}
	return cv, nil
}

// councilFiles discovers artifacts, excluding anything under the output directory.
func councilFiles(root, outDir string) ([]string, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	files, err := artifact.Discover(root)
	if err != nil {
		return nil, err
	}
	absOut, _ := filepath.Abs(outDir)
	kept := files[:0]
	for _, f := range files {
		abs, _ := filepath.Abs(f)
		if absOut != "" && strings.HasPrefix(abs, absOut+string(filepath.Separator)) {
			continue
		}
		if !watch.IsArtifact(f) {
			continue
		}
		kept = append(kept, f)
	}
	return kept, nil
}

func recordCouncil(ctx context.Context, cv models.CouncilVerdict, rep council.QualityReport) error {
	if dryRun {
		ui.DryRunMsg("Would record council run")
		return nil
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	run, reviewers, err := store.NewCouncilRun(cv, rep)
	if err != nil {
		return err
	}
	if err := s.RecordCouncilRun(ctx, run, reviewers); err != nil {
		return err
	}
	ui.VerboseLog("Recorded council run %s", run.ID)
	return nil
}

func printCouncil(cv models.CouncilVerdict) {
	if len(cv.Reviewers) > 0 {
		table := ui.Table([]string{"Reviewer", "Verdict", "Confidence", "Critical", "Major", "Minor", "Model"})
		for _, r := range cv.Reviewers {
			var critical, major, minor int
			if r.Stats != nil {
				critical, major, minor = r.Stats.Critical, r.Stats.Major, r.Stats.Minor
			}
			_ = table.Append([]string{
				r.Reviewer,
				output.VerdictColor(string(r.Verdict)),
				fmt.Sprintf("%.2f", r.Confidence),
				fmt.Sprintf("%d", critical),
				fmt.Sprintf("%d", major),
				fmt.Sprintf("%d", minor),
				r.ModelUsed,
			})
		}
		_ = table.Render()
		fmt.Fprintln(ui.Out)
	}

	for _, sa := range cv.SkippedArtifacts {
		ui.Warning("Skipped %s: %s", sa.File, sa.Reason)
	}
	for _, rej := range cv.Override.Rejected {
		ui.VerboseLog("Override by %s rejected: %s", rej.Actor, rej.Reason)
	}
	if cv.Override.Used {
		ui.Info("Override applied by %s (%s): %s", cv.Override.Actor, cv.Override.SHA, cv.Override.Reason)
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.VerdictColor(string(cv.Verdict)), cv.Summary)
}

// watchCouncil re-runs the council on every burst of artifact changes until interrupted.
func watchCouncil(ctx context.Context, cfg *config.Config, in *councilInputs) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default().With("component", "watch", "artifacts", councilArtifacts)
	w, err := watch.NewArtifactWatcher(watch.DefaultDebounce, func(ev watch.ChangeEvent) {
		log.Info("artifact changed", "path", ev.Path, "change", ev.ChangeType)
		if _, err := runCouncil(ctx, cfg, in); err != nil {
			log.Error("council run failed", "error", err)
		}
	}, in.outDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(councilArtifacts, 0755); err != nil {
		return fmt.Errorf("create artifacts directory: %w", err)
	}
	if err := w.WatchRecursive(councilArtifacts); err != nil {
		return err
	}

	ui.Info("Watching %s for artifact changes (Ctrl-C to stop)", councilArtifacts)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
