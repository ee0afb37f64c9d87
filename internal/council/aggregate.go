package council

import (
	"fmt"
	"strings"

	"github.com/joescharf/verdict/internal/models"
)

// Options tune aggregation.
type Options struct {
	ParseFailurePolicy models.ParseFailurePolicy
	ExpectedReviewers  []string
}

// Reclassify applies the parse-failure policy to FAIL reviews produced by unparseable
// output. It returns a new slice and the names of reclassified reviewers.
func Reclassify(reviews []models.Review, policy models.ParseFailurePolicy) ([]models.Review, []string) {
	out := make([]models.Review, len(reviews))
	copy(out, reviews)

	var target models.Verdict
	switch policy {
	case models.ParseFailureFail:
		return out, nil
	case models.ParseFailureWarn:
		target = models.VerdictWarn
	default:
		target = models.VerdictSkip
	}

	var names []string
	for i := range out {
		if out[i].Verdict == models.VerdictFail && out[i].IsParseFailure() {
			out[i].Verdict = target
			names = append(names, out[i].Reviewer)
		}
	}
	return out, names
}

// IsBlockingFail reports whether a FAIL blocks on its own. A FAIL is non-critical only
// when it carries evidence (a stats breakdown or findings), its critical count is known
// from a stats breakdown, and that count is zero. Missing evidence is never benefit of the doubt.
func IsBlockingFail(r models.Review) bool {
	if r.Verdict != models.VerdictFail {
		return false
	}
	hasEvidence := r.HasStats() || len(r.Findings) > 0
	criticalKnown := r.HasStats()
	nonCritical := hasEvidence && criticalKnown && r.CriticalCount() == 0
	return !nonCritical
}

// Aggregate votes the reviews into one council verdict. An authorized override may only
// suppress a FAIL outcome; it never upgrades a WARN.
func Aggregate(reviews []models.Review, ov *models.Override, opts Options) models.CouncilVerdict {
	members, reclassified := Reclassify(reviews, opts.ParseFailurePolicy)

	cv := models.CouncilVerdict{
		Reviewers:            members,
		ReclassifiedFailures: reclassified,
	}
	cv.Stats.Total = len(members)
	cv.Stats.ParseFailuresReclassified = len(reclassified)
	if cv.Reviewers == nil {
		cv.Reviewers = []models.Review{}
	}

	var blocking, nonCritical, warns, timeouts, skips []string
	for _, r := range members {
		switch r.Verdict {
		case models.VerdictPass:
			cv.Stats.Pass++
		case models.VerdictWarn:
			cv.Stats.Warn++
			warns = append(warns, r.Reviewer)
		case models.VerdictFail:
			cv.Stats.Fail++
			if IsBlockingFail(r) {
				blocking = append(blocking, r.Reviewer)
			} else {
				nonCritical = append(nonCritical, r.Reviewer)
			}
		case models.VerdictSkip:
			cv.Stats.Skip++
			if r.IsTimeout() {
				timeouts = append(timeouts, r.Reviewer)
			} else {
				skips = append(skips, r.Reviewer)
			}
		}
	}

	cv.MissingReviewers, cv.UnexpectedReviewers = reviewerMismatch(members, opts.ExpectedReviewers)

	var lead string
	failCondition := len(blocking) >= 1 || len(nonCritical) >= 2
	switch {
	case len(members) == 0:
		cv.Verdict = models.VerdictSkip
		lead = "No valid reviewer verdicts"
	case cv.Stats.Skip == len(members):
		cv.Verdict = models.VerdictSkip
		lead = fmt.Sprintf("All %d reviewers skipped", len(members))
	case failCondition && ov == nil:
		cv.Verdict = models.VerdictFail
		if len(blocking) > 0 {
			lead = "Blocking failures from: " + strings.Join(blocking, ", ")
		} else {
			lead = "Multiple non-critical failures from: " + strings.Join(nonCritical, ", ")
		}
	default:
		if failCondition {
			cv.Override = models.OverrideBlock{Used: true, Actor: ov.Actor, SHA: ov.SHA, Reason: ov.Reason}
			failed := append(append([]string{}, blocking...), nonCritical...)
			lead = fmt.Sprintf("Override by %s suppressed failures from: %s", ov.Actor, strings.Join(failed, ", "))
		}
		if len(warns) > 0 || len(nonCritical) > 0 {
			cv.Verdict = models.VerdictWarn
			if !failCondition {
				lead = joinNonEmpty("; ",
					prefixed("Warnings from: ", warns),
					prefixed("Non-critical failure from: ", nonCritical))
			}
		} else {
			cv.Verdict = models.VerdictPass
			if !failCondition {
				lead = fmt.Sprintf("%d of %d reviewers passed", cv.Stats.Pass, len(members))
			}
		}
	}

	cv.Summary = buildSummary(cv, lead, timeouts, skips, reclassified, len(opts.ExpectedReviewers))
	return cv
}

func buildSummary(cv models.CouncilVerdict, lead string, timeouts, skips, reclassified []string, expected int) string {
	parts := []string{
		fmt.Sprintf("%s: %s (pass=%d warn=%d fail=%d skip=%d).",
			cv.Verdict, lead, cv.Stats.Pass, cv.Stats.Warn, cv.Stats.Fail, cv.Stats.Skip),
	}
	if len(timeouts) > 0 {
		parts = append(parts, "Timed out: "+strings.Join(timeouts, ", ")+".")
	}
	if len(skips) > 0 {
		parts = append(parts, "Skipped: "+strings.Join(skips, ", ")+".")
	}
	if len(reclassified) > 0 {
		parts = append(parts, "Parse failures reclassified: "+strings.Join(reclassified, ", ")+".")
	}
	if expected > 0 && (len(cv.MissingReviewers) > 0 || len(cv.UnexpectedReviewers) > 0) {
		msg := fmt.Sprintf("Expected %d reviewers, received %d", expected, cv.Stats.Total)
		if len(cv.MissingReviewers) > 0 {
			msg += " (missing: " + strings.Join(cv.MissingReviewers, ", ") + ")"
		}
		parts = append(parts, msg+".")
	}
	return strings.Join(parts, " ")
}

func reviewerMismatch(members []models.Review, expected []string) (missing, unexpected []string) {
	if len(expected) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(members))
	for _, r := range members {
		seen[r.Reviewer] = true
	}
	want := make(map[string]bool, len(expected))
	for _, e := range expected {
		want[e] = true
		if !seen[e] {
			missing = append(missing, e)
		}
	}
	for _, r := range members {
		if !want[r.Reviewer] {
			unexpected = append(unexpected, r.Reviewer)
		}
	}
	return missing, unexpected
}

func prefixed(prefix string, names []string) string {
	if len(names) == 0 {
		return ""
	}
	return prefix + strings.Join(names, ", ")
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
