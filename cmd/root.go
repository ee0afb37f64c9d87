package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/verdict/internal/config"
	"github.com/joescharf/verdict/internal/git"
	"github.com/joescharf/verdict/internal/output"
	"github.com/joescharf/verdict/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	gitClient git.Client = git.NewClient()

	// newGitHubClient is replaceable in tests.
	newGitHubClient = func(token string) git.GitHubClient { return git.NewGitHubClient(token) }

	// configReadErr holds a config file read failure other than "not found".
	configReadErr error

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Merge verdicts from independent AI code reviewers",
	Long: `verdict turns the raw output of several independent AI reviewers into
one authoritative merge decision.

It normalizes each reviewer's output into a validated artifact, aggregates
the artifacts into a council verdict (honoring at most one authorized human
override), and decides whether another wave of reviewers should run.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without writing files")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/verdict/config.yaml)")
}

func initConfig() {
	configDir, err := configDirFunc()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}

	// If --config is explicitly set, use that file
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper(), configDir)

	// The default config file is optional; an explicit one is not.
	configReadErr = nil
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			configReadErr = err
		}
	}
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily by getStore, so commands that never
	// record history run without a database.
}

// loadConfig returns the validated configuration. Any problem is fatal.
func loadConfig() (*config.Config, error) {
	if configReadErr != nil {
		return nil, fmt.Errorf("%w: read config file: %v", config.ErrInvalidConfig, configReadErr)
	}
	return config.Load(viper.GetViper())
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
