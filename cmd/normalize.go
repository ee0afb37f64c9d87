package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/config"
	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/normalize"
)

var (
	normalizeReviewer    string
	normalizePerspective string
	normalizeInput       string
	normalizeOut         string
	normalizeRawOut      string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize one reviewer's raw output into a verdict artifact",
	Long: `Normalize reads a reviewer's raw terminal output (a file, or stdin with
--input -) and turns it into a validated verdict artifact.

Malformed output never fails the command: it becomes a diagnostic SKIP or
WARN artifact explaining what went wrong.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return normalizeRun(cmd.InOrStdin())
	},
}

func init() {
	normalizeCmd.Flags().StringVar(&normalizeReviewer, "reviewer", "", "Reviewer id (required)")
	normalizeCmd.Flags().StringVar(&normalizePerspective, "perspective", "", "Reviewer perspective (default: configured perspective)")
	normalizeCmd.Flags().StringVarP(&normalizeInput, "input", "i", "-", "Raw output file, or - for stdin")
	normalizeCmd.Flags().StringVarP(&normalizeOut, "out", "o", "", "Artifact path (default: print to stdout)")
	normalizeCmd.Flags().StringVar(&normalizeRawOut, "raw-out", "", "Also preserve the raw output at this path")
	_ = normalizeCmd.MarkFlagRequired("reviewer")
	rootCmd.AddCommand(normalizeCmd)
}

func normalizeRun(stdin io.Reader) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw, err := readInput(normalizeInput, stdin)
	if err != nil {
		return err
	}

	in := normalize.Input{
		Raw:         raw,
		Reviewer:    normalizeReviewer,
		Perspective: reviewerPerspective(cfg, normalizeReviewer, normalizePerspective),
	}
	if normalizeRawOut != "" {
		if dryRun {
			ui.DryRunMsg("Would preserve raw output at %s", normalizeRawOut)
		} else if err := artifact.WriteFile(normalizeRawOut, []byte(raw)); err != nil {
			return err
		}
		in.RawOutputPath = normalizeRawOut
	}

	review := normalize.Normalize(in)
	return emitReview(review, normalizeOut)
}

// emitReview writes review to path atomically, or prints it when path is empty.
func emitReview(review models.Review, path string) error {
	if path == "" {
		return ui.JSON(review)
	}
	if dryRun {
		ui.DryRunMsg("Would write %s artifact to %s", review.Reviewer, path)
		return ui.JSON(review)
	}
	if err := artifact.WriteJSON(path, review); err != nil {
		return err
	}
	ui.Success("%s: %s (confidence %.2f) -> %s", review.Reviewer, review.Verdict, review.Confidence, path)
	if review.Normalization != nil && review.Normalization.SkipCause != "" {
		ui.VerboseLog("skip cause: %s", review.Normalization.SkipCause)
	}
	return nil
}

// reviewerPerspective prefers an explicit perspective over the configured one.
func reviewerPerspective(cfg *config.Config, reviewer, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return cfg.Perspective(reviewer, "")
}

// readInput reads a whole file, or stdin when path is "-" or empty.
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
