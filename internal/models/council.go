package models

// Override is an authorized human decision to suppress a blocking council FAIL.
// It is immutable once selected.
type Override struct {
	Actor  string `json:"actor"`
	SHA    string `json:"sha"`
	Reason string `json:"reason"`
}

// RejectedOverride records a candidate that did not qualify.
type RejectedOverride struct {
	Actor  string `json:"actor"`
	SHA    string `json:"sha,omitempty"`
	Reason string `json:"reason"`
}

// OverrideBlock is the audit record of override handling in one council run.
type OverrideBlock struct {
	Used     bool               `json:"used"`
	Actor    string             `json:"actor,omitempty"`
	SHA      string             `json:"sha,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	Policy   Policy             `json:"policy,omitempty"`
	Rejected []RejectedOverride `json:"rejected,omitempty"`
}

// CouncilStats counts member verdicts after reclassification.
type CouncilStats struct {
	Total                     int `json:"total"`
	Fail                      int `json:"fail"`
	Warn                      int `json:"warn"`
	Pass                      int `json:"pass"`
	Skip                      int `json:"skip"`
	ParseFailuresReclassified int `json:"parse_failures_reclassified"`
}

// SkippedArtifact is an artifact file excluded by the validation gate.
type SkippedArtifact struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// CouncilVerdict is the aggregated decision. Verdict is always derived by the aggregator.
type CouncilVerdict struct {
	Verdict              Verdict           `json:"verdict"`
	Summary              string            `json:"summary"`
	Reviewers            []Review          `json:"reviewers"`
	Override             OverrideBlock     `json:"override"`
	Stats                CouncilStats      `json:"stats"`
	SkippedArtifacts     []SkippedArtifact `json:"skipped_artifacts,omitempty"`
	ReclassifiedFailures []string          `json:"reclassified_parse_failures,omitempty"`
	MissingReviewers     []string          `json:"missing_reviewers,omitempty"`
	UnexpectedReviewers  []string          `json:"unexpected_reviewers,omitempty"`
}
