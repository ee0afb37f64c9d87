package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joescharf/verdict/internal/models"
)

// TimeoutMarker starts the line that reports a reviewer running out of time.
const TimeoutMarker = "REVIEW_TIMEOUT"

// Raw output longer than this is treated as visible-but-unverified content.
const unstructuredWarnThreshold = 500

// Upper bound on raw output preserved inside an artifact.
const rawReviewBudget = 64 * 1024

// Input is one reviewer's terminal output plus its execution context.
type Input struct {
	Raw         string
	Reviewer    string
	Perspective string
	// RawOutputPath is where the caller preserved the raw output, if anywhere.
	RawOutputPath string
}

var (
	timeoutLine = regexp.MustCompile(`(?m)^\s*REVIEW_TIMEOUT\b(.*)$`)
	elapsedRe   = regexp.MustCompile(`(?i)elapsed\s*[=:]\s*(\d+(?:\.\d+)?)\s*s?`)

	scratchpadMarker = regexp.MustCompile(`(?im)^\s*(?:<scratchpad>|#{1,3}\s*(?:scratchpad|analysis|reasoning|findings|notes)\b)`)
)

// Normalize turns raw reviewer output into a validated, internally consistent Review.
// It never fails: malformed input becomes a diagnostic SKIP or WARN review.
func Normalize(in Input) models.Review {
	raw := in.Raw

	if m := timeoutLine.FindStringSubmatch(raw); m != nil {
		return timeoutReview(in, strings.TrimSpace(m[1]))
	}

	if class, detail, ok := detectAPIError(raw); ok {
		return apiErrorReview(in, class, detail)
	}

	var parseErr error
	if candidate, ok := extractJSON(raw); ok {
		review, err := parseReview(candidate, in)
		if err == nil {
			return review
		}
		parseErr = err
	}

	return unstructuredReview(in, parseErr)
}

func timeoutReview(in Input, context string) models.Review {
	var elapsed *float64
	desc := "Reviewer exceeded its time budget before producing a verdict."
	summary := "Reviewer timed out"
	if m := elapsedRe.FindStringSubmatch(context); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			elapsed = &v
			summary = fmt.Sprintf("Reviewer timed out after %ss", m[1])
			desc = fmt.Sprintf("Reviewer exceeded its time budget after %ss before producing a verdict.", m[1])
		}
	}
	if rest := strings.TrimSpace(elapsedRe.ReplaceAllString(context, "")); rest != "" {
		desc += " Context: " + rest
	}

	r := diagnosticReview(in, models.VerdictSkip, 0, summary, models.Finding{
		Severity:    models.SeverityInfo,
		Category:    models.SkipCauseTimeout,
		Title:       "Reviewer timed out",
		Description: desc,
		Suggestion:  "Increase the reviewer timeout or reduce the size of the change under review.",
	})
	r.RuntimeSeconds = elapsed
	r.Normalization = &models.Normalization{SkipCause: models.SkipCauseTimeout}
	return r
}

func unstructuredReview(in Input, parseErr error) models.Review {
	raw := strings.TrimSpace(in.Raw)
	pointer := in.RawOutputPath
	if pointer == "" {
		pointer = "the raw_review field"
	}
	norm := &models.Normalization{}
	if parseErr != nil {
		norm.ParseError = parseErr.Error()
	}

	var r models.Review
	switch {
	case scratchpadMarker.MatchString(raw):
		norm.SkipCause = models.SkipCauseScratchpad
		r = diagnosticReview(in, models.VerdictSkip, 0.3,
			"Reviewer returned working notes instead of a verdict; raw output preserved in "+pointer,
			models.Finding{
				Severity:    models.SeverityInfo,
				Category:    "output-format",
				Title:       "Scratchpad output without a verdict",
				Description: "The reviewer output contains scratchpad sections but no structured verdict. Raw output preserved in " + pointer + ".",
				Suggestion:  "Inspect the preserved output; re-run the reviewer if its notes contain real issues.",
			})
		r.RawReview = truncate(raw, rawReviewBudget)
	case len(raw) > unstructuredWarnThreshold:
		norm.SkipCause = models.SkipCauseUnstructured
		r = diagnosticReview(in, models.VerdictWarn, 0.3,
			"Reviewer output was not structured JSON; content is visible but unverified",
			models.Finding{
				Severity:    models.SeverityInfo,
				Category:    "output-format",
				Title:       "Unstructured reviewer output",
				Description: "The reviewer produced prose instead of a JSON verdict. Findings could not be verified; read the raw output.",
				Suggestion:  "Read the raw_review field and re-run the reviewer if needed.",
			})
		r.RawReview = truncate(raw, rawReviewBudget)
	default:
		norm.SkipCause = models.SkipCauseUnparseable
		summary := "Review output could not be parsed"
		desc := "The reviewer output was empty or too short to contain a verdict."
		if parseErr != nil {
			desc = "Reviewer JSON was rejected: " + parseErr.Error()
		}
		r = diagnosticReview(in, models.VerdictSkip, 0, summary, models.Finding{
			Severity:    models.SeverityInfo,
			Category:    "output-format",
			Title:       "Unparseable reviewer output",
			Description: desc,
			Suggestion:  "Check the reviewer prompt and model output format.",
		})
		if raw != "" {
			r.RawReview = truncate(raw, rawReviewBudget)
		}
	}
	r.Normalization = norm
	return r
}

// diagnosticReview builds a terminal review carrying one explanatory finding.
func diagnosticReview(in Input, v models.Verdict, confidence float64, summary string, f models.Finding) models.Review {
	findings := []models.Finding{f}
	st := models.ComputeStats(findings, 0)
	return models.Review{
		Reviewer:    in.Reviewer,
		Perspective: in.Perspective,
		Verdict:     v,
		Confidence:  confidence,
		Summary:     summary,
		Findings:    findings,
		Stats:       &st,
	}
}

// finalize recomputes every derived field of a parsed review.
func finalize(r *models.Review, reported models.Stats) {
	norm := r.Normalization

	for i := range r.Findings {
		r.Findings[i].Evidence = normalizeEvidence(r.Findings[i].Evidence)
	}

	st := models.ComputeStats(r.Findings, reported.FilesReviewed)
	if d := statsDiscrepancy(reported, st); len(d) > 0 {
		norm.StatsDiscrepancy = d
	}

	norm.StaleDemotions = demoteStaleKnowledge(r.Findings)
	if norm.StaleDemotions > 0 {
		st = models.ComputeStats(r.Findings, reported.FilesReviewed)
	}
	r.Stats = &st

	sort.SliceStable(r.Findings, func(i, j int) bool {
		return r.Findings[i].Severity.Rank() > r.Findings[j].Severity.Rank()
	})

	if r.Verdict != models.VerdictSkip {
		derived := DeriveVerdict(r.Findings, r.Confidence)
		if derived != r.Verdict {
			norm.VerdictCorrectedFrom = r.Verdict
			r.Verdict = derived
		}
	}
}

func statsDiscrepancy(reported, actual models.Stats) map[string]models.StatDiscrepancy {
	d := make(map[string]models.StatDiscrepancy)
	check := func(name string, rep, act int) {
		if rep != act {
			d[name] = models.StatDiscrepancy{Reported: rep, Actual: act}
		}
	}
	check("files_with_issues", reported.FilesWithIssues, actual.FilesWithIssues)
	check("critical", reported.Critical, actual.Critical)
	check("major", reported.Major, actual.Major)
	check("minor", reported.Minor, actual.Minor)
	check("info", reported.Info, actual.Info)
	return d
}

// DeriveVerdict recomputes a non-SKIP verdict from findings. Findings of a
// review below the confidence threshold do not count.
func DeriveVerdict(findings []models.Finding, confidence float64) models.Verdict {
	if confidence < models.LowConfidenceThreshold {
		return models.VerdictPass
	}

	var critical, major, minor int
	minorByCategory := make(map[string]int)
	for _, f := range findings {
		switch f.Severity {
		case models.SeverityCritical:
			critical++
		case models.SeverityMajor:
			major++
		case models.SeverityMinor:
			minor++
			minorByCategory[strings.ToLower(strings.TrimSpace(f.Category))]++
		}
	}

	if critical >= 1 || major >= 2 {
		return models.VerdictFail
	}
	if major == 1 || minor >= 5 {
		return models.VerdictWarn
	}
	for _, n := range minorByCategory {
		if n >= 3 {
			return models.VerdictWarn
		}
	}
	return models.VerdictPass
}
