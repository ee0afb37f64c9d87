package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/joescharf/verdict/internal/artifact"
	"github.com/joescharf/verdict/internal/council"
	"github.com/joescharf/verdict/internal/models"
	"github.com/joescharf/verdict/internal/wave"
)

// ErrInvalidConfig marks configuration problems. They are fatal to the invoking command.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment overrides (VERDICT_DB_PATH, ...).
const EnvPrefix = "VERDICT"

// Reviewer is the per-reviewer configuration.
type Reviewer struct {
	Perspective string `mapstructure:"perspective"`
	Policy      string `mapstructure:"policy"`
}

// Override configures who may override a blocking council FAIL.
type Override struct {
	Policy  string `mapstructure:"policy"`
	Trigger string `mapstructure:"trigger"`
}

// GitHub configures the override candidate source.
type GitHub struct {
	Token string `mapstructure:"token"`
	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`
}

// Anthropic configures the one-shot reviewer.
type Anthropic struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Config is the typed view of the viper configuration.
type Config struct {
	StateDir           string              `mapstructure:"state_dir"`
	DBPath             string              `mapstructure:"db_path"`
	Override           Override            `mapstructure:"override"`
	Reviewers          map[string]Reviewer `mapstructure:"reviewers"`
	ExpectedReviewers  []string            `mapstructure:"expected_reviewers"`
	ParseFailurePolicy string              `mapstructure:"parse_failure_policy"`
	ArtifactMaxBytes   int64               `mapstructure:"artifact_max_bytes"`
	Waves              models.WaveConfig   `mapstructure:"waves"`
	GitHub             GitHub              `mapstructure:"github"`
	Anthropic          Anthropic           `mapstructure:"anthropic"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("state_dir", configDir)
	v.SetDefault("db_path", filepath.Join(configDir, "verdict.db"))
	v.SetDefault("override.policy", string(models.PolicyWriteAccess))
	v.SetDefault("override.trigger", "/override")
	v.SetDefault("expected_reviewers", []string{})
	v.SetDefault("parse_failure_policy", string(models.ParseFailureSkip))
	v.SetDefault("artifact_max_bytes", artifact.DefaultMaxBytes)
	v.SetDefault("waves.enabled", false)
	v.SetDefault("waves.order", []string{})
	v.SetDefault("waves.gate.block_on_critical", true)
	v.SetDefault("waves.gate.block_on_major", false)
	v.SetDefault("waves.gate.block_on_skip", false)
	v.SetDefault("waves.gate.skip_tolerance", 0)
	v.SetDefault("github.token", "")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_seconds", 300)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks policy names and wave topology. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	if _, ok := models.ParsePolicy(c.Override.Policy); !ok {
		problems = append(problems, fmt.Sprintf("override.policy %q is not one of pr_author, write_access, maintainers_only", c.Override.Policy))
	}
	ids := make([]string, 0, len(c.Reviewers))
	for id := range c.Reviewers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := c.Reviewers[id].Policy
		if p == "" {
			continue
		}
		if _, ok := models.ParsePolicy(p); !ok {
			problems = append(problems, fmt.Sprintf("reviewers.%s.policy %q is not a known policy", id, p))
		}
	}
	if _, ok := models.ParseParseFailurePolicy(c.ParseFailurePolicy); !ok {
		problems = append(problems, fmt.Sprintf("parse_failure_policy %q is not one of skip, warn, fail", c.ParseFailurePolicy))
	}
	if c.ArtifactMaxBytes < 0 {
		problems = append(problems, "artifact_max_bytes must not be negative")
	}
	problems = append(problems, validateWaves(c.Waves)...)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func validateWaves(w models.WaveConfig) []string {
	var problems []string
	if w.Gate.SkipTolerance < 0 {
		problems = append(problems, "waves.gate.skip_tolerance must not be negative")
	}
	if !w.Enabled {
		return problems
	}
	if len(w.Order) == 0 {
		problems = append(problems, "waves.order is empty but waves are enabled")
	}
	seen := make(map[string]bool, len(w.Order))
	for _, name := range w.Order {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "waves.order contains an empty wave name")
			continue
		}
		if seen[models.FoldKey(name)] {
			problems = append(problems, fmt.Sprintf("waves.order lists %q twice", name))
		}
		seen[models.FoldKey(name)] = true
	}
	names := make([]string, 0, len(w.Reviewers))
	for name := range w.Reviewers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !seen[models.FoldKey(name)] {
			problems = append(problems, fmt.Sprintf("waves.reviewers.%s names a wave missing from waves.order", name))
		}
	}
	return problems
}

// GlobalPolicy is the run-wide override policy.
func (c *Config) GlobalPolicy() models.Policy {
	if p, ok := models.ParsePolicy(c.Override.Policy); ok {
		return p
	}
	return models.Policy(c.Override.Policy)
}

// ReviewerPolicies returns the per-reviewer policy map keyed by folded reviewer id,
// omitting reviewers without one.
func (c *Config) ReviewerPolicies() map[string]models.Policy {
	out := make(map[string]models.Policy, len(c.Reviewers))
	for id, r := range c.Reviewers {
		if r.Policy == "" {
			continue
		}
		if p, ok := models.ParsePolicy(r.Policy); ok {
			out[models.FoldKey(id)] = p
		} else {
			out[models.FoldKey(id)] = models.Policy(r.Policy)
		}
	}
	return out
}

// Perspective returns the configured perspective of reviewer id, or fallback.
func (c *Config) Perspective(id, fallback string) string {
	for key, r := range c.Reviewers {
		if models.FoldKey(key) == models.FoldKey(id) && r.Perspective != "" {
			return r.Perspective
		}
	}
	return fallback
}

// ParseFailure returns the typed parse-failure policy.
func (c *Config) ParseFailure() models.ParseFailurePolicy {
	if p, ok := models.ParseParseFailurePolicy(c.ParseFailurePolicy); ok {
		return p
	}
	return models.ParseFailureSkip
}

// Loader returns an artifact loader honoring artifact_max_bytes.
func (c *Config) Loader() *artifact.Loader {
	return artifact.NewLoader(c.ArtifactMaxBytes)
}

// Evaluator builds the council pipeline from the configured policies.
func (c *Config) Evaluator() *council.Evaluator {
	return &council.Evaluator{
		Loader:             c.Loader(),
		GlobalPolicy:       c.GlobalPolicy(),
		ReviewerPolicies:   c.ReviewerPolicies(),
		ParseFailurePolicy: c.ParseFailure(),
		ExpectedReviewers:  c.ExpectedReviewers,
	}
}

// Gate builds the wave gate from the configured topology.
func (c *Config) Gate() *wave.Gate {
	return wave.NewGate(c.Waves, c.Loader())
}
