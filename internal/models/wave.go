package models

// GateRule decides whether a wave's results block escalation.
type GateRule struct {
	BlockOnCritical bool `json:"block_on_critical" mapstructure:"block_on_critical"`
	BlockOnMajor    bool `json:"block_on_major" mapstructure:"block_on_major"`
	BlockOnSkip     bool `json:"block_on_skip" mapstructure:"block_on_skip"`
	SkipTolerance   int  `json:"skip_tolerance" mapstructure:"skip_tolerance"`
}

// WaveConfig is the staged-escalation topology.
type WaveConfig struct {
	Enabled   bool                `json:"enabled" mapstructure:"enabled"`
	Order     []string            `json:"order" mapstructure:"order"`
	Reviewers map[string][]string `json:"reviewers" mapstructure:"reviewers"`
	// MaxDepth maps a cost tier to the deepest wave (1-based) it may reach. Non-positive means unlimited.
	MaxDepth map[string]int `json:"max_depth" mapstructure:"max_depth"`
	Gate     GateRule       `json:"gate" mapstructure:"gate"`
}

// GateStats summarises one wave's artifacts.
type GateStats struct {
	Total     int `json:"total"`
	Pass      int `json:"pass"`
	Warn      int `json:"warn"`
	Fail      int `json:"fail"`
	Skip      int `json:"skip"`
	Critical  int `json:"critical"`
	Major     int `json:"major"`
	Malformed int `json:"malformed"`
}

// GateResult is the escalation decision for one wave.
type GateResult struct {
	Wave             string            `json:"wave"`
	Escalate         bool              `json:"escalate"`
	Blocking         bool              `json:"blocking"`
	Reason           string            `json:"reason"`
	NextWave         string            `json:"next_wave,omitempty"`
	Stats            GateStats         `json:"stats"`
	SkippedArtifacts []SkippedArtifact `json:"skipped_artifacts,omitempty"`
	MissingReviewers []string          `json:"missing_reviewers,omitempty"`
}
