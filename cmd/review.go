package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/config"
	"github.com/joescharf/verdict/internal/llm"
	"github.com/joescharf/verdict/internal/normalize"
)

var (
	reviewReviewer    string
	reviewPerspective string
	reviewPromptFile  string
	reviewInputFile   string
	reviewBase        string
	reviewWave        string
	reviewModel       string
	reviewArtifacts   string
	reviewOut         string
	reviewRawOut      string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run one Anthropic reviewer and write its verdict artifact",
	Long: `Review sends the change under review to one Anthropic model acting as the
named reviewer, normalizes the response and writes the artifact atomically.

API errors and timeouts do not fail the command: they become SKIP artifacts
that name the cause. The change defaults to 'git diff <base>...HEAD'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd.Context())
	},
}

func init() {
	f := reviewCmd.Flags()
	f.StringVar(&reviewReviewer, "reviewer", "", "Reviewer id (required)")
	f.StringVar(&reviewPerspective, "perspective", "", "Reviewer perspective (default: configured perspective)")
	f.StringVar(&reviewPromptFile, "prompt-file", "", "Extra reviewer instructions")
	f.StringVar(&reviewInputFile, "input-file", "", "Change to review (default: git diff against --base)")
	f.StringVar(&reviewBase, "base", "main", "Base ref for the default diff")
	f.StringVar(&reviewWave, "wave", "", "Wave this reviewer belongs to")
	f.StringVar(&reviewModel, "model", "", "Model (default: anthropic.model)")
	f.StringVarP(&reviewArtifacts, "artifacts", "a", "artifacts", "Artifacts root")
	f.StringVarP(&reviewOut, "out", "o", "", "Artifact path (default: <artifacts>[/<wave>]/<reviewer>.json)")
	f.StringVar(&reviewRawOut, "raw-out", "", "Also preserve the raw model output at this path")
	_ = reviewCmd.MarkFlagRequired("reviewer")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	model := reviewModel
	if model == "" {
		model = cfg.Anthropic.Model
	}
	client := newLLMClient(cfg, model)
	if client == nil {
		return fmt.Errorf("%w: anthropic.api_key is not set (or export ANTHROPIC_API_KEY)", config.ErrInvalidConfig)
	}

	req, err := buildReviewRequest(cfg)
	if err != nil {
		return err
	}

	ui.VerboseLog("Running %s with %s", reviewReviewer, model)
	res := client.Review(ctx, req)
	if res.Err != nil {
		ui.Warning("%s: %v", reviewReviewer, res.Err)
	}

	in := normalize.Input{Raw: res.Raw, Reviewer: reviewReviewer, Perspective: req.Perspective}
	if reviewRawOut != "" && !dryRun {
		if err := artifact.WriteFile(reviewRawOut, []byte(res.Raw)); err != nil {
			return err
		}
		in.RawOutputPath = reviewRawOut
	}

	review := normalize.Normalize(in)
	review.PrimaryModel = model
	review.ModelUsed = res.Model
	review.ModelWave = reviewWave
	runtime := res.RuntimeSeconds
	review.RuntimeSeconds = &runtime

	return emitReview(review, reviewArtifactPath())
}

func buildReviewRequest(cfg *config.Config) (llm.Request, error) {
	req := llm.Request{
		Reviewer:    reviewReviewer,
		Perspective: reviewerPerspective(cfg, reviewReviewer, reviewPerspective),
	}
	if reviewPromptFile != "" {
		instructions, err := readInput(reviewPromptFile, os.Stdin)
		if err != nil {
			return req, err
		}
		req.Instructions = instructions
	}

	if reviewInputFile != "" {
		input, err := readInput(reviewInputFile, os.Stdin)
		if err != nil {
			return req, err
		}
		req.Input = input
		return req, nil
	}
	diff, err := gitClient.Diff(".", reviewBase, "HEAD")
	if err != nil {
		return req, fmt.Errorf("diff %s...HEAD: %w", reviewBase, err)
	}
	if names, err := gitClient.DiffNameOnly(".", reviewBase, "HEAD"); err == nil {
		ui.VerboseLog("%d changed file(s) against %s", len(names), reviewBase)
	}
	req.Input = diff
	return req, nil
}

func reviewArtifactPath() string {
	if reviewOut != "" {
		return reviewOut
	}
	if reviewWave != "" {
		return filepath.Join(reviewArtifacts, reviewWave, reviewReviewer+".json")
	}
	return filepath.Join(reviewArtifacts, reviewReviewer+".json")
}
