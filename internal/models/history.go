package models

import "time"

// CouncilRun is a recorded council evaluation.
type CouncilRun struct {
	ID                        string    `json:"id"`
	Repo                      string    `json:"repo"`
	PRNumber                  int       `json:"pr_number"`
	HeadSHA                   string    `json:"head_sha"`
	Verdict                   Verdict   `json:"verdict"`
	Summary                   string    `json:"summary"`
	Total                     int       `json:"total"`
	Pass                      int       `json:"pass"`
	Warn                      int       `json:"warn"`
	Fail                      int       `json:"fail"`
	Skip                      int       `json:"skip"`
	ParseFailuresReclassified int       `json:"parse_failures_reclassified"`
	SkipRate                  float64   `json:"skip_rate"`
	ParseFailureRate          float64   `json:"parse_failure_rate"`
	OverrideUsed              bool      `json:"override_used"`
	OverrideActor             string    `json:"override_actor,omitempty"`
	CouncilJSON               string    `json:"-"`
	ReportJSON                string    `json:"-"`
	CreatedAt                 time.Time `json:"created_at"`
}

// ReviewerRun is one member of a recorded council run.
type ReviewerRun struct {
	ID             string   `json:"id"`
	RunID          string   `json:"run_id"`
	Reviewer       string   `json:"reviewer"`
	Model          string   `json:"model"`
	Verdict        Verdict  `json:"verdict"`
	Confidence     float64  `json:"confidence"`
	RuntimeSeconds *float64 `json:"runtime_seconds,omitempty"`
	FallbackUsed   bool     `json:"fallback_used"`
	ParseFailure   bool     `json:"parse_failure"`
	Timeout        bool     `json:"timeout"`
}

// GateRun is a recorded wave-gate decision.
type GateRun struct {
	ID         string    `json:"id"`
	Repo       string    `json:"repo"`
	HeadSHA    string    `json:"head_sha"`
	Wave       string    `json:"wave"`
	Tier       string    `json:"tier"`
	Escalate   bool      `json:"escalate"`
	Blocking   bool      `json:"blocking"`
	Reason     string    `json:"reason"`
	NextWave   string    `json:"next_wave,omitempty"`
	ResultJSON string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ModelHistory aggregates recorded reviews per model.
type ModelHistory struct {
	Model             string  `json:"model"`
	Reviews           int     `json:"reviews"`
	Pass              int     `json:"pass"`
	Warn              int     `json:"warn"`
	Fail              int     `json:"fail"`
	Skip              int     `json:"skip"`
	ParseFailures     int     `json:"parse_failures"`
	Fallbacks         int     `json:"fallbacks"`
	AvgRuntimeSeconds float64 `json:"avg_runtime_seconds"`
	SuccessRate       float64 `json:"success_rate"`
	SkipRate          float64 `json:"skip_rate"`
	FallbackRate      float64 `json:"fallback_rate"`
}
