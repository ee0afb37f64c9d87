package store

import (
	"encoding/json"
	"fmt"

	"github.com/joescharf/verdict/internal/council"
	"github.com/joescharf/verdict/internal/models"
)

// NewCouncilRun flattens a council verdict and its quality report into history rows.
func NewCouncilRun(cv models.CouncilVerdict, rep council.QualityReport) (*models.CouncilRun, []*models.ReviewerRun, error) {
	cvJSON, err := json.Marshal(cv)
	if err != nil {
		return nil, nil, fmt.Errorf("encode council verdict: %w", err)
	}
	repJSON, err := json.Marshal(rep)
	if err != nil {
		return nil, nil, fmt.Errorf("encode quality report: %w", err)
	}

	run := &models.CouncilRun{
		Repo:                      rep.Meta.Repo,
		PRNumber:                  rep.Meta.PRNumber,
		HeadSHA:                   rep.Meta.HeadSHA,
		Verdict:                   cv.Verdict,
		Summary:                   cv.Summary,
		Total:                     cv.Stats.Total,
		Pass:                      cv.Stats.Pass,
		Warn:                      cv.Stats.Warn,
		Fail:                      cv.Stats.Fail,
		Skip:                      cv.Stats.Skip,
		ParseFailuresReclassified: cv.Stats.ParseFailuresReclassified,
		SkipRate:                  rep.Summary.SkipRate,
		ParseFailureRate:          rep.Summary.ParseFailureRate,
		OverrideUsed:              cv.Override.Used,
		OverrideActor:             cv.Override.Actor,
		CouncilJSON:               string(cvJSON),
		ReportJSON:                string(repJSON),
	}
	if !rep.Meta.GeneratedAt.IsZero() {
		run.CreatedAt = rep.Meta.GeneratedAt.UTC()
	}

	reviewers := make([]*models.ReviewerRun, 0, len(rep.Reviewers))
	for _, r := range rep.Reviewers {
		reviewers = append(reviewers, &models.ReviewerRun{
			Reviewer:       r.Reviewer,
			Model:          r.Model,
			Verdict:        r.Verdict,
			Confidence:     r.Confidence,
			RuntimeSeconds: r.RuntimeSeconds,
			FallbackUsed:   r.FallbackUsed,
			ParseFailure:   r.ParseFailure,
			Timeout:        r.Timeout,
		})
	}
	return run, reviewers, nil
}

// NewGateRun wraps a gate result for recording.
func NewGateRun(repo, headSHA, tier string, res models.GateResult) (*models.GateRun, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode gate result: %w", err)
	}
	return &models.GateRun{
		Repo:       repo,
		HeadSHA:    headSHA,
		Wave:       res.Wave,
		Tier:       tier,
		Escalate:   res.Escalate,
		Blocking:   res.Blocking,
		Reason:     res.Reason,
		NextWave:   res.NextWave,
		ResultJSON: string(data),
	}, nil
}
