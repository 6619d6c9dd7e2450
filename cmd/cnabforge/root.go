// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for cnabforge.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/cnabforge/cnabforge/internal/config"
	"github.com/cnabforge/cnabforge/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "cnabforge",
		Short: "A content-addressed container image build cache and bundle builder",
		Long: TitleStyle.Render("cnabforge") + SubtitleStyle.Render(" - content-addressed image builds for CNAB bundles") + `

cnabforge fingerprints each component's build context and parameters
client-side, asks the build daemon whether an equivalent image already
exists, and only builds on a confirmed miss. Components form a dependency
graph and independent ones build in parallel.

Bundles are defined in 'bundle.cue' files using CUE format; a successful
build emits a CNAB-style bundle manifest referencing every image.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Create a bundle.cue next to your component contexts
  2. Declare components and their requires edges
  3. Run: cnabforge build

` + SubtitleStyle.Render("Examples:") + `
  cnabforge build                 Build every component of ./bundle.cue
  cnabforge build -f deploy/bundle.cue -o out/bundle.json
  cnabforge fingerprint web       Print a component's content fingerprint
  cnabforge archive -o images.tar Export all bundle images as a tarball
  cnabforge config show           Show current configuration`,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/cnabforge/config.cue)")

	// Add subcommands
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(configCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Use fang.Execute for enhanced Cobra styling
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration, honoring the --config flag.
func loadConfig(ctx context.Context) (*config.Config, error) {
	return config.NewProvider().Load(ctx, config.LoadOptions{ConfigFilePath: cfgFile})
}

// newLogger builds the CLI logger. Verbosity comes from the flag or the
// config, whichever asks for more.
func newLogger(cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Prefix:          "cnabforge",
	})
	if verbose || (cfg != nil && cfg.UI.Verbose) {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
