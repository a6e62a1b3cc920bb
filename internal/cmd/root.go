// Package cmd implements the bamverify command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/bamverify/internal/config"
	"github.com/3leaps/bamverify/internal/observability"
)

// binaryName is used for the logger name and help text.
const binaryName = "bamverify"

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile    string
	verbose    bool
	logLevel   string
	logProfile string
)

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Run a VerifyBamID sample check on ephemeral scratch storage",
	Long: `bamverify runs one VerifyBamID contamination / sample-swap check inside a
container with no persistent local storage.

It sizes the vcf, bam and bai inputs, declares the total to the host agent,
waits for the scratch disk to be mounted, stages the inputs, runs verifyBamID,
uploads the result files next to the results prefix and removes its working
directory.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $"+config.ConfigFileEnv+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logProfile, "log-profile", "", "Log format (console|structured)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// SIGINT/SIGTERM by main.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// initConfig loads configuration and installs the logger before any
// subcommand runs.
func initConfig(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	logging := map[string]any{}
	if logLevel != "" {
		logging["level"] = logLevel
	}
	if logProfile != "" {
		logging["profile"] = logProfile
	}
	cfg, err := config.Load(cmd.Context(), map[string]any{"logging": logging})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	if err := observability.ConfigureCLILogger(binaryName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	if verbose {
		_ = observability.SetCLILevel("debug")
	}
	return nil
}

// loadedConfig returns the configuration initConfig resolved.
func loadedConfig() (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return nil, fmt.Errorf("configuration not loaded")
}
