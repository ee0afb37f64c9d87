package council

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/override"
)

// Evaluator runs the full aggregation pipeline over artifact files.
type Evaluator struct {
	Loader             *artifact.Loader
	GlobalPolicy       models.Policy
	ReviewerPolicies   map[string]models.Policy
	ParseFailurePolicy models.ParseFailurePolicy
	ExpectedReviewers  []string
}

// Request is the input of one evaluation.
type Request struct {
	Files      []string
	Candidates []override.Candidate
	Context    override.Context
}

// NewEvaluator returns an Evaluator with default loader and policies.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		Loader:             artifact.NewLoader(0),
		GlobalPolicy:       models.PolicyWriteAccess,
		ParseFailurePolicy: models.ParseFailureSkip,
	}
}

// Evaluate validates every artifact, selects an override under the effective policy
// and votes. It is a pure function of its inputs.
func (e *Evaluator) Evaluate(req Request) models.CouncilVerdict {
	loader := e.Loader
	if loader == nil {
		loader = artifact.NewLoader(0)
	}
	loaded, skipped := loader.LoadAll(req.Files)

	if len(loaded) == 0 {
		cv := Aggregate(nil, nil, Options{ParseFailurePolicy: e.ParseFailurePolicy, ExpectedReviewers: e.ExpectedReviewers})
		cv.SkippedArtifacts = skipped
		if len(skipped) > 0 {
			cv.Summary = fmt.Sprintf("SKIP: all %d artifacts were malformed; no valid reviewer verdicts.", len(skipped))
		} else {
			cv.Summary = "SKIP: no reviewer artifacts found."
		}
		cv.Override.Policy = e.GlobalPolicy
		cv.Override.Rejected = rejectAllUnused(req.Candidates)
		return cv
	}

	reviews := Reviews(loaded)
	policy := override.EffectivePolicy(e.Failing(reviews), e.ReviewerPolicies, e.GlobalPolicy)
	decision := override.Select(req.Candidates, policy, req.Context)

	cv := Aggregate(reviews, decision.Override, Options{
		ParseFailurePolicy: e.ParseFailurePolicy,
		ExpectedReviewers:  e.ExpectedReviewers,
	})
	cv.SkippedArtifacts = skipped
	cv.Override.Policy = decision.Policy
	cv.Override.Rejected = decision.Rejected
	return cv
}

// Reviews extracts the loaded reviews, naming anonymous ones after their file.
func Reviews(loaded []artifact.Loaded) []models.Review {
	reviews := make([]models.Review, 0, len(loaded))
	for _, l := range loaded {
		r := l.Review
		if r.Reviewer == "" {
			r.Reviewer = strings.TrimSuffix(filepath.Base(l.File), filepath.Ext(l.File))
		}
		reviews = append(reviews, r)
	}
	return reviews
}

// Failing returns the reviews that still FAIL after parse-failure reclassification.
func (e *Evaluator) Failing(reviews []models.Review) []models.Review {
	members, _ := Reclassify(reviews, e.ParseFailurePolicy)
	var failing []models.Review
	for _, r := range members {
		if r.Verdict == models.VerdictFail {
			failing = append(failing, r)
		}
	}
	return failing
}

func rejectAllUnused(candidates []override.Candidate) []models.RejectedOverride {
	var out []models.RejectedOverride
	for _, c := range candidates {
		o := c.Resolve()
		out = append(out, models.RejectedOverride{Actor: o.Actor, SHA: o.SHA, Reason: "no valid reviewer verdicts to override"})
	}
	return out
}
