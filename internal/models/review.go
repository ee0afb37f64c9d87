package models

import "strings"

// LowConfidenceThreshold is the confidence below which a review's findings do not gate.
const LowConfidenceThreshold = 0.7

// ParseFailureMarker appears in the summary of a review whose raw output could not be parsed.
const ParseFailureMarker = "could not be parsed"

// Skip causes recorded by the normalizer.
const (
	SkipCauseTimeout      = "timeout"
	SkipCauseAPIError     = "api_error"
	SkipCauseScratchpad   = "scratchpad"
	SkipCauseUnstructured = "unstructured"
	SkipCauseUnparseable  = "unparseable"
)

// Finding is one issue raised by a reviewer.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	File        string   `json:"file"`
	Line        int      `json:"line"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
	Evidence    string   `json:"evidence,omitempty"`

	// Set when a stale "does not exist" claim was demoted to info.
	StaleKnowledge   bool     `json:"stale_knowledge,omitempty"`
	OriginalSeverity Severity `json:"original_severity,omitempty"`
}

// Stats is a per-review summary. It is always derived from findings.
type Stats struct {
	FilesReviewed   int `json:"files_reviewed"`
	FilesWithIssues int `json:"files_with_issues"`
	Critical        int `json:"critical"`
	Major           int `json:"major"`
	Minor           int `json:"minor"`
	Info            int `json:"info"`
}

// Count returns the count for one severity.
func (s Stats) Count(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return s.Critical
	case SeverityMajor:
		return s.Major
	case SeverityMinor:
		return s.Minor
	case SeverityInfo:
		return s.Info
	default:
		return 0
	}
}

// ComputeStats counts findings per severity and distinct files with issues.
// FilesReviewed cannot be derived and is carried from reported.
func ComputeStats(findings []Finding, filesReviewed int) Stats {
	st := Stats{FilesReviewed: filesReviewed}
	files := make(map[string]struct{})
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			st.Critical++
		case SeverityMajor:
			st.Major++
		case SeverityMinor:
			st.Minor++
		case SeverityInfo:
			st.Info++
		}
		if f.File != "" {
			files[f.File] = struct{}{}
		}
	}
	st.FilesWithIssues = len(files)
	if st.FilesReviewed < st.FilesWithIssues {
		st.FilesReviewed = st.FilesWithIssues
	}
	return st
}

// StatDiscrepancy records a self-reported stat that did not match the findings.
type StatDiscrepancy struct {
	Reported int `json:"reported"`
	Actual   int `json:"actual"`
}

// DroppedFinding records a finding rejected during normalization.
type DroppedFinding struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Normalization describes what the normalizer changed or discarded.
type Normalization struct {
	SkipCause            string                     `json:"skip_cause,omitempty"`
	APIErrorClass        string                     `json:"api_error_class,omitempty"`
	StatsDiscrepancy     map[string]StatDiscrepancy `json:"stats_discrepancy,omitempty"`
	DroppedFindings      []DroppedFinding           `json:"dropped_findings,omitempty"`
	StaleDemotions       int                        `json:"stale_knowledge_demotions,omitempty"`
	VerdictCorrectedFrom Verdict                    `json:"verdict_corrected_from,omitempty"`
	ParseError           string                     `json:"parse_error,omitempty"`
}

// Review is one reviewer's verdict artifact.
type Review struct {
	Reviewer       string         `json:"reviewer"`
	Perspective    string         `json:"perspective"`
	Verdict        Verdict        `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Summary        string         `json:"summary"`
	Findings       []Finding      `json:"findings"`
	Stats          *Stats         `json:"stats"`
	RuntimeSeconds *float64       `json:"runtime_seconds,omitempty"`
	ModelUsed      string         `json:"model_used,omitempty"`
	PrimaryModel   string         `json:"primary_model,omitempty"`
	FallbackUsed   bool           `json:"fallback_used,omitempty"`
	ModelWave      string         `json:"model_wave,omitempty"`
	RawReview      string         `json:"raw_review,omitempty"`
	Normalization  *Normalization `json:"normalization,omitempty"`
}

// HasStats reports whether the review carries a numeric stats breakdown.
func (r *Review) HasStats() bool {
	return r.Stats != nil
}

// CriticalCount prefers the stats breakdown and falls back to counting findings.
func (r *Review) CriticalCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			n++
		}
	}
	if r.Stats != nil && r.Stats.Critical > n {
		return r.Stats.Critical
	}
	return n
}

// SeverityCount is CriticalCount generalised to any severity.
func (r *Review) SeverityCount(sev Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == sev {
			n++
		}
	}
	if r.Stats != nil && r.Stats.Count(sev) > n {
		return r.Stats.Count(sev)
	}
	return n
}

// IsParseFailure reports whether the review records unparseable reviewer output.
// Only the zero confidence and the summary marker count; the self-reported
// normalization block of an external artifact is not trusted.
func (r *Review) IsParseFailure() bool {
	return r.Confidence == 0 && strings.Contains(strings.ToLower(r.Summary), ParseFailureMarker)
}

// IsTimeout reports whether a SKIP was caused by the reviewer running out of time.
func (r *Review) IsTimeout() bool {
	if r.Verdict != VerdictSkip {
		return false
	}
	if r.Normalization != nil && r.Normalization.SkipCause == SkipCauseTimeout {
		return true
	}
	for _, f := range r.Findings {
		if strings.EqualFold(f.Category, SkipCauseTimeout) {
			return true
		}
	}
	return false
}

// ModelName is the model that produced the review, or "unknown".
func (r *Review) ModelName() string {
	if r.ModelUsed != "" {
		return r.ModelUsed
	}
	if r.PrimaryModel != "" {
		return r.PrimaryModel
	}
	return "unknown"
}
