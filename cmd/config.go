package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "verdict"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage verdict configuration.

Running bare 'verdict config' is the same as 'verdict config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# verdict configuration
# See: verdict config show (for effective values and sources)

# State/data directory (default: ~/.config/verdict)
# state_dir: {{ .StateDir }}

# SQLite history database (default: ~/.config/verdict/verdict.db)
# db_path: {{ .DBPath }}

override:
  # Who may override a blocking FAIL: pr_author, write_access, maintainers_only
  policy: {{ .OverridePolicy }}
  # PR comments must start with this to count as an override request
  trigger: "{{ .OverrideTrigger }}"

# Per-reviewer perspective and override policy. The strictest policy among
# failing reviewers wins.
# reviewers:
#   security:
#     perspective: injection, authn/authz and secrets handling
#     policy: maintainers_only

# Reviewers every council run should contain
# expected_reviewers: [security, architecture, style]

# What a FAIL that only means "could not be parsed" becomes: skip, warn, fail
parse_failure_policy: {{ .ParseFailurePolicy }}

# Artifacts larger than this are rejected (bytes)
artifact_max_bytes: {{ .ArtifactMaxBytes }}

waves:
  enabled: {{ .WavesEnabled }}
  # order: [wave1, wave2, wave3]
  # reviewers:
  #   wave1: [style, tests]
  #   wave2: [security, architecture]
  # max_depth:
  #   cheap: 1
  #   standard: 2
  gate:
    block_on_critical: {{ .BlockOnCritical }}
    block_on_major: {{ .BlockOnMajor }}
    block_on_skip: {{ .BlockOnSkip }}
    skip_tolerance: {{ .SkipTolerance }}

github:
  # Token for reading PR comments and permissions (or set VERDICT_GITHUB_TOKEN)
  token: ""
  owner: "{{ .GitHubOwner }}"
  repo: "{{ .GitHubRepo }}"

anthropic:
  # API key for 'verdict review' (or set VERDICT_ANTHROPIC_API_KEY)
  api_key: ""
  model: "{{ .AnthropicModel }}"
  max_tokens: {{ .AnthropicMaxTokens }}
  timeout_seconds: {{ .AnthropicTimeout }}
`

type configTemplateData struct {
	StateDir           string
	DBPath             string
	OverridePolicy     string
	OverrideTrigger    string
	ParseFailurePolicy string
	ArtifactMaxBytes   int64
	WavesEnabled       bool
	BlockOnCritical    bool
	BlockOnMajor       bool
	BlockOnSkip        bool
	SkipTolerance      int
	GitHubOwner        string
	GitHubRepo         string
	AnthropicModel     string
	AnthropicMaxTokens int
	AnthropicTimeout   int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:           viper.GetString("state_dir"),
		DBPath:             viper.GetString("db_path"),
		OverridePolicy:     viper.GetString("override.policy"),
		OverrideTrigger:    viper.GetString("override.trigger"),
		ParseFailurePolicy: viper.GetString("parse_failure_policy"),
		ArtifactMaxBytes:   viper.GetInt64("artifact_max_bytes"),
		WavesEnabled:       viper.GetBool("waves.enabled"),
		BlockOnCritical:    viper.GetBool("waves.gate.block_on_critical"),
		BlockOnMajor:       viper.GetBool("waves.gate.block_on_major"),
		BlockOnSkip:        viper.GetBool("waves.gate.block_on_skip"),
		SkipTolerance:      viper.GetInt("waves.gate.skip_tolerance"),
		GitHubOwner:        viper.GetString("github.owner"),
		GitHubRepo:         viper.GetString("github.repo"),
		AnthropicModel:     viper.GetString("anthropic.model"),
		AnthropicMaxTokens: viper.GetInt("anthropic.max_tokens"),
		AnthropicTimeout:   viper.GetInt("anthropic.timeout_seconds"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "VERDICT_STATE_DIR"},
	{Key: "db_path", EnvVar: "VERDICT_DB_PATH"},
	{Key: "override.policy", EnvVar: "VERDICT_OVERRIDE_POLICY"},
	{Key: "override.trigger", EnvVar: "VERDICT_OVERRIDE_TRIGGER"},
	{Key: "expected_reviewers", EnvVar: "VERDICT_EXPECTED_REVIEWERS"},
	{Key: "parse_failure_policy", EnvVar: "VERDICT_PARSE_FAILURE_POLICY"},
	{Key: "artifact_max_bytes", EnvVar: "VERDICT_ARTIFACT_MAX_BYTES"},
	{Key: "waves.enabled", EnvVar: "VERDICT_WAVES_ENABLED"},
	{Key: "waves.order", EnvVar: "VERDICT_WAVES_ORDER"},
	{Key: "waves.gate.block_on_critical", EnvVar: "VERDICT_WAVES_GATE_BLOCK_ON_CRITICAL"},
	{Key: "waves.gate.block_on_major", EnvVar: "VERDICT_WAVES_GATE_BLOCK_ON_MAJOR"},
	{Key: "waves.gate.block_on_skip", EnvVar: "VERDICT_WAVES_GATE_BLOCK_ON_SKIP"},
	{Key: "waves.gate.skip_tolerance", EnvVar: "VERDICT_WAVES_GATE_SKIP_TOLERANCE"},
	{Key: "github.token", EnvVar: "VERDICT_GITHUB_TOKEN", Secret: true},
	{Key: "github.owner", EnvVar: "VERDICT_GITHUB_OWNER"},
	{Key: "github.repo", EnvVar: "VERDICT_GITHUB_REPO"},
	{Key: "anthropic.api_key", EnvVar: "VERDICT_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "VERDICT_ANTHROPIC_MODEL"},
	{Key: "anthropic.max_tokens", EnvVar: "VERDICT_ANTHROPIC_MAX_TOKENS"},
	{Key: "anthropic.timeout_seconds", EnvVar: "VERDICT_ANTHROPIC_TIMEOUT_SECONDS"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	if _, err := loadConfig(); err != nil {
		fmt.Fprintln(ui.Out)
		ui.Error("%v", err)
	}
	return nil
}

// maskSecret hides all but the last four characters of a credential.
func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'verdict config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
