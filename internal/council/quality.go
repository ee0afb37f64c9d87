package council

import (
	"math"
	"sort"
	"time"

	"github.com/joescharf/verdict/internal/models"
)

// ReportMeta identifies the evaluation a quality report belongs to.
type ReportMeta struct {
	Repo        string    `json:"repo"`
	PRNumber    int       `json:"pr_number"`
	HeadSHA     string    `json:"head_sha"`
	GeneratedAt time.Time `json:"generated_at"`
}

// QualitySummary holds run-wide rates.
type QualitySummary struct {
	TotalReviewers      int                    `json:"total_reviewers"`
	SkipRate            float64                `json:"skip_rate"`
	ParseFailureRate    float64                `json:"parse_failure_rate"`
	CouncilVerdict      models.Verdict         `json:"council_verdict"`
	VerdictDistribution map[models.Verdict]int `json:"verdict_distribution"`
}

// ReviewerQuality is one member's line in the report.
type ReviewerQuality struct {
	Reviewer       string         `json:"reviewer"`
	Perspective    string         `json:"perspective,omitempty"`
	Verdict        models.Verdict `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Model          string         `json:"model"`
	FallbackUsed   bool           `json:"fallback_used"`
	RuntimeSeconds *float64       `json:"runtime_seconds,omitempty"`
	Findings       int            `json:"findings"`
	ParseFailure   bool           `json:"parse_failure"`
	Timeout        bool           `json:"timeout"`
}

// ModelQuality aggregates the reviews produced by one model.
type ModelQuality struct {
	Count                int                    `json:"count"`
	Verdicts             map[models.Verdict]int `json:"verdicts"`
	AvgRuntimeSeconds    float64                `json:"avg_runtime_seconds"`
	MedianRuntimeSeconds float64                `json:"median_runtime_seconds"`
	SuccessRate          float64                `json:"success_rate"`
	SkipRate             float64                `json:"skip_rate"`
	ParseFailureRate     float64                `json:"parse_failure_rate"`
	FallbackRate         float64                `json:"fallback_rate"`
}

// QualityReport is the companion report written next to the council verdict.
type QualityReport struct {
	Meta      ReportMeta              `json:"meta"`
	Summary   QualitySummary          `json:"summary"`
	Reviewers []ReviewerQuality       `json:"reviewers"`
	Models    map[string]ModelQuality `json:"models"`
}

// BuildReport computes the quality report for a council verdict. Zero reviewers
// yield zero rates.
func BuildReport(meta ReportMeta, cv models.CouncilVerdict) QualityReport {
	rep := QualityReport{
		Meta: meta,
		Summary: QualitySummary{
			TotalReviewers:      len(cv.Reviewers),
			CouncilVerdict:      cv.Verdict,
			VerdictDistribution: map[models.Verdict]int{},
		},
		Reviewers: []ReviewerQuality{},
		Models:    map[string]ModelQuality{},
	}

	type acc struct {
		q        ModelQuality
		runtimes []float64
		success  int
		skips    int
		parse    int
		fallback int
	}
	byModel := map[string]*acc{}

	var skips, parseFailures int
	for i := range cv.Reviewers {
		r := &cv.Reviewers[i]
		parseFailure := r.IsParseFailure()
		rep.Summary.VerdictDistribution[r.Verdict]++
		if r.Verdict == models.VerdictSkip {
			skips++
		}
		if parseFailure {
			parseFailures++
		}

		name := r.ModelName()
		rep.Reviewers = append(rep.Reviewers, ReviewerQuality{
			Reviewer:       r.Reviewer,
			Perspective:    r.Perspective,
			Verdict:        r.Verdict,
			Confidence:     r.Confidence,
			Model:          name,
			FallbackUsed:   r.FallbackUsed,
			RuntimeSeconds: r.RuntimeSeconds,
			Findings:       len(r.Findings),
			ParseFailure:   parseFailure,
			Timeout:        r.IsTimeout(),
		})

		a, ok := byModel[name]
		if !ok {
			a = &acc{q: ModelQuality{Verdicts: map[models.Verdict]int{}}}
			byModel[name] = a
		}
		a.q.Count++
		a.q.Verdicts[r.Verdict]++
		if r.RuntimeSeconds != nil {
			a.runtimes = append(a.runtimes, *r.RuntimeSeconds)
		}
		if r.Verdict == models.VerdictSkip {
			a.skips++
		} else {
			a.success++
		}
		if parseFailure {
			a.parse++
		}
		if r.FallbackUsed {
			a.fallback++
		}
	}

	rep.Summary.SkipRate = rate(skips, len(cv.Reviewers))
	rep.Summary.ParseFailureRate = rate(parseFailures, len(cv.Reviewers))

	for name, a := range byModel {
		q := a.q
		q.AvgRuntimeSeconds, q.MedianRuntimeSeconds = runtimeStats(a.runtimes)
		q.SuccessRate = rate(a.success, q.Count)
		q.SkipRate = rate(a.skips, q.Count)
		q.ParseFailureRate = rate(a.parse, q.Count)
		q.FallbackRate = rate(a.fallback, q.Count)
		rep.Models[name] = q
	}
	return rep
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round4(float64(n) / float64(total))
}

func runtimeStats(values []float64) (avg, median float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	avg = sum / float64(len(sorted))
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}
	return round4(avg), round4(median)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
